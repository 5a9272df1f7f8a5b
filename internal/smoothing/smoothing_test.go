package smoothing

import (
	"testing"
	"time"

	"collabcanvas/pkg/geometry"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDStartsAtTarget(t *testing.T) {
	sched := NewManualScheduler()
	loop := NewLoop(sched, Options{})

	loop.SetTarget("a", geometry.Point{X: 10, Y: 10})
	assert.Equal(t, geometry.Point{X: 10, Y: 10}, loop.Positions()["a"])

	sched.Step()
	assert.False(t, loop.Running(), "nothing to move")
	assert.Zero(t, sched.Pending())
}

func TestEasesTowardTargetAndStops(t *testing.T) {
	sched := NewManualScheduler()
	loop := NewLoop(sched, Options{})
	loop.SetTarget("a", geometry.Point{})
	sched.Step()

	loop.SetTarget("a", geometry.Point{X: 100, Y: -50})
	require.True(t, loop.Running())

	sched.Step()
	assert.InDelta(t, 20, loop.Positions()["a"].X, 1e-9)
	assert.InDelta(t, -10, loop.Positions()["a"].Y, 1e-9)
	sched.Step()
	assert.InDelta(t, 36, loop.Positions()["a"].X, 1e-9)

	frames := 2
	for sched.Pending() > 0 {
		sched.Step()
		frames++
		require.Less(t, frames, 100)
	}
	assert.Equal(t, geometry.Point{X: 100, Y: -50}, loop.Positions()["a"], "snaps once within epsilon")

	target, ok := loop.Target("a")
	require.True(t, ok)
	assert.Equal(t, geometry.Point{X: 100, Y: -50}, target)
}

func TestSyncTargetsPrunesMissingIDs(t *testing.T) {
	sched := NewManualScheduler()
	loop := NewLoop(sched, Options{})

	loop.SyncTargets(map[string]geometry.Point{"a": {X: 1}, "b": {X: 2}})
	sched.Step()
	require.Len(t, loop.Positions(), 2)

	loop.SyncTargets(map[string]geometry.Point{"b": {X: 2}})
	sched.Step()
	assert.NotContains(t, loop.Positions(), "a")

	loop.RemoveTarget("b")
	sched.Step()
	assert.Empty(t, loop.Positions())
}

func TestOnFrameReceivesCopies(t *testing.T) {
	sched := NewManualScheduler()
	loop := NewLoop(sched, Options{})

	var got map[string]geometry.Point
	loop.OnFrame(func(m map[string]geometry.Point) { got = m })
	loop.SetTarget("a", geometry.Point{X: 5})
	sched.Step()

	require.NotNil(t, got)
	got["a"] = geometry.Point{X: 999}
	assert.Equal(t, 5.0, loop.Positions()["a"].X)
}

func TestCloseCancelsPendingFrame(t *testing.T) {
	sched := NewManualScheduler()
	loop := NewLoop(sched, Options{})

	calls := 0
	loop.OnFrame(func(map[string]geometry.Point) { calls++ })
	loop.SetTarget("a", geometry.Point{})
	loop.SetTarget("a", geometry.Point{X: 100})
	require.Equal(t, 1, sched.Pending())

	loop.Close()
	assert.Zero(t, sched.Pending())
	assert.Zero(t, sched.Step())
	assert.Zero(t, calls)

	loop.SetTarget("a", geometry.Point{X: 200})
	assert.Zero(t, sched.Pending(), "closed loops never schedule")
	loop.Close()
}

func TestClockSchedulerFiresAfterInterval(t *testing.T) {
	clk := clock.NewMock()
	sched := NewClockScheduler(clk, 16*time.Millisecond)

	fired := make(chan struct{}, 1)
	sched.RequestFrame(func() { fired <- struct{}{} })
	cancelled := sched.RequestFrame(func() { t.Error("cancelled frame ran") })
	cancelled()

	clk.Add(16 * time.Millisecond)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("frame did not fire")
	}
}
