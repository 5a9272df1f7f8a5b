package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"
	"collabcanvas/internal/shape/repository"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const t0 = 1_700_000_000_000

func setup(t *testing.T) (*Manager, *repository.MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(t0))
	store := repository.NewMemoryStore(repository.Options{Clock: clk})
	return NewManager(store, clk, 0), store, clk
}

func TestIsStaleBoundary(t *testing.T) {
	m, _, _ := setup(t)
	threshold := 5 * time.Minute

	atBoundary := model.Shape{LockedBy: "u", LockedAt: t0 - threshold.Milliseconds()}
	assert.False(t, m.IsStale(atBoundary, threshold))

	pastBoundary := model.Shape{LockedBy: "u", LockedAt: t0 - threshold.Milliseconds() - 1}
	assert.True(t, m.IsStale(pastBoundary, threshold))
}

func TestCanLockIgnoresOwnAndStaleLocks(t *testing.T) {
	m, _, _ := setup(t)

	own := model.Shape{ID: "a", LockedBy: "me", LockedAt: t0}
	stale := model.Shape{ID: "b", LockedBy: "other", LockedAt: t0 - DefaultStaleAfter.Milliseconds() - 1}
	free := model.Shape{ID: "c"}
	assert.True(t, m.CanLock([]model.Shape{own, stale, free}, "me"))

	live := model.Shape{ID: "d", LockedBy: "other", LockedByName: "Olga", LockedAt: t0 - 1000}
	assert.False(t, m.CanLock([]model.Shape{free, live}, "me"))

	err := m.Conflict([]model.Shape{live}, "me")
	require.Error(t, err)
	assert.True(t, canvaserr.IsConflict(err))
	assert.Contains(t, err.Error(), "Olga")
}

func TestLockAndUnlock(t *testing.T) {
	m, store, clk := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "a", DocumentID: "doc"}))
	require.NoError(t, store.Create(ctx, model.Shape{ID: "b", DocumentID: "doc"}))

	require.NoError(t, m.Lock(ctx, []string{"a", "b"}, "u1", "Ann"))
	a, _ := store.Get(ctx, "a")
	assert.Equal(t, "u1", a.LockedBy)
	assert.Equal(t, "Ann", a.LockedByName)
	assert.Equal(t, int64(t0), a.LockedAt)

	require.NoError(t, m.Unlock(ctx, []string{"a", "b"}))
	a, _ = store.Get(ctx, "a")
	assert.False(t, a.Locked())

	// Unlocking again changes nothing and does not fail.
	clk.Add(time.Second)
	deliveries := 0
	unsubscribe := store.Subscribe("doc", func([]model.Shape) { deliveries++ })
	defer unsubscribe()

	before, _ := store.Get(ctx, "b")
	require.NoError(t, m.Unlock(ctx, []string{"b", "missing"}))
	after, _ := store.Get(ctx, "b")
	assert.Equal(t, before, after)
	assert.Equal(t, 1, deliveries, "only the initial snapshot is delivered")
}

func TestLockIsUnconditional(t *testing.T) {
	m, store, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "a", DocumentID: "doc", LockedBy: "other", LockedAt: t0}))

	require.NoError(t, m.Lock(ctx, []string{"a"}, "me", "Me"))
	a, _ := store.Get(ctx, "a")
	assert.Equal(t, "me", a.LockedBy)
}

func TestReleaseStale(t *testing.T) {
	m, store, clk := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "a", DocumentID: "doc"}))
	require.NoError(t, m.Lock(ctx, []string{"a"}, "u1", "Ann"))

	shapes, _ := store.List(ctx, "doc")
	n, err := m.ReleaseStale(ctx, shapes)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Add(DefaultStaleAfter + time.Millisecond)
	assert.False(t, m.LockedByOther(shapes[0], "u2"), "stale reads as unlocked before any write")

	n, err = m.ReleaseStale(ctx, shapes)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a, _ := store.Get(ctx, "a")
	assert.False(t, a.Locked())
}

func TestLockPropagatesStoreErrors(t *testing.T) {
	m, store, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "a", DocumentID: "doc"}))
	store.SetFailure(errors.New("offline"))

	err := m.Lock(ctx, []string{"a"}, "u1", "Ann")
	assert.True(t, canvaserr.IsStore(err))
}
