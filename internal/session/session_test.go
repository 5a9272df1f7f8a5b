package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/command"
	groupmodel "collabcanvas/internal/group/model"
	grouprepository "collabcanvas/internal/group/repository"
	groupservice "collabcanvas/internal/group/service"
	"collabcanvas/internal/lock"
	"collabcanvas/internal/presence/channel"
	presencemodel "collabcanvas/internal/presence/model"
	"collabcanvas/internal/shape/model"
	shaperepository "collabcanvas/internal/shape/repository"
	"collabcanvas/internal/smoothing"
	"collabcanvas/pkg/geometry"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	deps   Deps
	shapes *shaperepository.MemoryStore
	ch     *channel.Channel
	clk    *clock.Mock
	sched  *smoothing.ManualScheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	shapes := shaperepository.NewMemoryStore(shaperepository.Options{Clock: clk})
	ch := channel.New(channel.NewMemoryBackend(clk), channel.Options{Clock: clk})
	sched := smoothing.NewManualScheduler()
	locks := lock.NewManager(shapes, clk, 0)
	return &harness{
		deps: Deps{
			Shapes:    shapes,
			Groups:    groupservice.NewGroupService(grouprepository.NewMemoryStore(clk)),
			Channel:   ch,
			Locks:     locks,
			Commands:  command.NewInterpreter(shapes, locks, clk),
			Clock:     clk,
			Scheduler: sched,
		},
		shapes: shapes,
		ch:     ch,
		clk:    clk,
		sched:  sched,
	}
}

func (h *harness) open(t *testing.T, id, name string) *Session {
	t.Helper()
	s := New(h.deps, "doc", User{ID: id, Name: name, Color: "#ef4444"}, Options{})
	t.Cleanup(s.Close)
	return s
}

func TestAddShapeIsDeliveredOnTopAndCopied(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[Event]bool{}
	s.OnUpdate(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e] = true
	})

	first, err := s.AddShape(ctx, model.Shape{Type: model.Rect, Width: 10, Height: 10})
	require.NoError(t, err)
	second, err := s.AddShape(ctx, model.Shape{Type: model.Circle, Width: 10, Height: 10, Rotation: -30})
	require.NoError(t, err)

	shapes := s.Shapes()
	require.Len(t, shapes, 2)
	assert.Equal(t, first.ID, shapes[0].ID)
	assert.Equal(t, second.ID, shapes[1].ID)
	assert.Greater(t, shapes[1].Z, shapes[0].Z)
	assert.Equal(t, 330.0, shapes[1].Rotation)
	assert.Equal(t, "u1", shapes[0].CreatedBy)
	mu.Lock()
	assert.True(t, seen[ShapesChanged])
	mu.Unlock()

	shapes[0].X = 999
	assert.Equal(t, 0.0, s.Shapes()[0].X, "callers get copies")
}

func TestShapeMutationErrorsLandInLastError(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")
	ctx := context.Background()

	h.shapes.SetFailure(errors.New("permission denied"))
	_, err := s.AddShape(ctx, model.Shape{Type: model.Rect})
	require.Error(t, err)
	assert.True(t, canvaserr.IsStore(s.LastError()))

	h.shapes.SetFailure(nil)
	_, err = s.AddShape(ctx, model.Shape{Type: model.Rect})
	require.NoError(t, err)
	assert.NoError(t, s.LastError())
}

func TestCursorUpdatesAreDebounced(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")

	s.UpdateCursor(geometry.Point{X: 1, Y: 1})
	s.UpdateCursor(geometry.Point{X: 2, Y: 2})
	s.UpdateCursor(geometry.Point{X: 3, Y: 3})

	records, err := h.ch.ListPresence(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records, "nothing is published before the debounce interval")

	h.clk.Add(DefaultCursorDebounce)
	require.Eventually(t, func() bool {
		records, err := h.ch.ListPresence(context.Background())
		return err == nil && len(records) == 1 && records[0].Cursor != nil && *records[0].Cursor == geometry.Point{X: 3, Y: 3}
	}, time.Second, 5*time.Millisecond)
}

func TestCloseCancelsPendingCursorAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")

	s.UpdateCursor(geometry.Point{X: 5, Y: 5})
	s.Close()
	s.Close()
	h.clk.Add(time.Second)

	assert.Never(t, func() bool {
		records, _ := h.ch.ListPresence(context.Background())
		return len(records) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	_, err := s.AddShape(context.Background(), model.Shape{Type: model.Rect})
	assert.ErrorIs(t, err, ErrClosed)
}

// gatedBackend holds presence writes until release is closed.
type gatedBackend struct {
	*channel.MemoryBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackend) Put(ctx context.Context, documentID string, kind channel.Kind, field string, value []byte) error {
	if kind == channel.PresenceKind {
		b.once.Do(func() { close(b.entered) })
		<-b.release
	}
	return b.MemoryBackend.Put(ctx, documentID, kind, field, value)
}

func TestLeaveWaitsForCursorPublishInFlight(t *testing.T) {
	h := newHarness(t)
	backend := &gatedBackend{
		MemoryBackend: channel.NewMemoryBackend(h.clk),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	ch := channel.New(backend, channel.Options{Clock: h.clk})
	h.deps.Channel = ch
	s := h.open(t, "u1", "Alice")
	ctx := context.Background()

	s.UpdateCursor(geometry.Point{X: 1, Y: 1})
	h.clk.Add(DefaultCursorDebounce)
	select {
	case <-backend.entered:
	case <-time.After(time.Second):
		t.Fatal("cursor publish did not start")
	}

	left := make(chan error, 1)
	go func() { left <- s.Leave(ctx) }()
	select {
	case <-left:
		t.Fatal("Leave returned while a cursor publish was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(backend.release)
	select {
	case err := <-left:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Leave did not return")
	}

	s.UpdateCursor(geometry.Point{X: 2, Y: 2})
	h.clk.Add(DefaultCursorDebounce)
	assert.Never(t, func() bool {
		records, _ := ch.ListPresence(ctx)
		return len(records) > 0
	}, 50*time.Millisecond, 5*time.Millisecond, "presence stays removed after Leave")
}

func TestRemoteDragIsSmoothed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.shapes.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc", Type: model.Rect}))

	s := h.open(t, "u1", "Alice")
	h.sched.Step()
	assert.Equal(t, geometry.Point{}, s.SmoothedShapes()["s1"])

	require.NoError(t, h.ch.PublishDrag(ctx, "doc", presencemodel.Position{ShapeID: "s1", UserID: "u2", X: 100, Y: 100}))
	require.Eventually(t, func() bool {
		h.sched.Step()
		return s.SmoothedShapes()["s1"] != geometry.Point{}
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, geometry.Point{X: 20, Y: 20}, s.SmoothedShapes()["s1"], "first frame moves a fifth of the way")
	assert.Equal(t, 0.0, s.Shapes()[0].X, "the stored shape is untouched")
}

func TestOwnDragIsNotEchoed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.shapes.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc", Type: model.Rect}))

	s := h.open(t, "u1", "Alice")
	h.sched.Step()

	require.NoError(t, s.PublishDragUpdate(ctx, "s1", geometry.Point{X: 50, Y: 50}))
	assert.Never(t, func() bool {
		h.sched.Step()
		return s.SmoothedShapes()["s1"] != geometry.Point{}
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestAddCommentPrependsHistory(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")
	ctx := context.Background()

	shape, err := s.AddShape(ctx, model.Shape{Type: model.Rect, Width: 10, Height: 10})
	require.NoError(t, err)
	require.NoError(t, s.AddComment(ctx, shape.ID, "first"))
	require.NoError(t, s.AddComment(ctx, shape.ID, "second"))

	got := s.Shapes()[0]
	assert.Equal(t, 2, got.Comments)
	require.Len(t, got.History, 2)
	assert.Equal(t, "second", got.History[0].Text)
	assert.Equal(t, model.HistoryComment, got.History[0].Type)

	assert.Error(t, s.AddComment(ctx, shape.ID, "  "))
	assert.ErrorIs(t, s.AddComment(ctx, "missing", "hi"), canvaserr.ErrNotFound)
}

func TestLocksAcrossSessions(t *testing.T) {
	h := newHarness(t)
	alice := h.open(t, "u1", "Alice")
	bob := h.open(t, "u2", "Bob")
	ctx := context.Background()

	shape, err := alice.AddShape(ctx, model.Shape{Type: model.Rect, Width: 10, Height: 10})
	require.NoError(t, err)
	require.NoError(t, alice.LockShapes(ctx, []string{shape.ID}))

	assert.False(t, bob.CanLock([]string{shape.ID}))
	assert.False(t, bob.Select(shape.ID), "locked shapes cannot be selected by others")
	err = bob.LockShapes(ctx, []string{shape.ID})
	require.Error(t, err)
	assert.Equal(t, "Shape is locked by Alice", err.Error())
	assert.NoError(t, bob.LastError(), "conflicts are not transport errors")

	h.clk.Add(lock.DefaultStaleAfter + time.Second)
	assert.True(t, bob.CanLock([]string{shape.ID}), "stale locks read as unlocked")
	n, err := bob.ReleaseStaleLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, bob.Shapes()[0].Locked())
}

func TestGroupLifecycleMaintainsShapeReferences(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")
	ctx := context.Background()

	a, err := s.AddShape(ctx, model.Shape{Type: model.Rect, Width: 10, Height: 10})
	require.NoError(t, err)
	b, err := s.AddShape(ctx, model.Shape{Type: model.Rect, Width: 10, Height: 10})
	require.NoError(t, err)
	require.True(t, s.Select(a.ID))
	require.True(t, s.Select(b.ID))

	g, err := s.CreateGroup(ctx, groupmodel.CreateGroupRequest{Name: "Pair"})
	require.NoError(t, err)
	require.Len(t, s.Groups(), 1)
	for _, shape := range s.Shapes() {
		assert.Equal(t, g.ID, shape.GroupID)
	}

	deleted, err := s.RemoveShapesFromGroup(ctx, g.ID, []string{a.ID})
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, s.DeleteGroup(ctx, g.ID))
	assert.Empty(t, s.Groups())
	for _, shape := range s.Shapes() {
		assert.Empty(t, shape.GroupID)
	}
}

func TestApplyCanvasCommandUsesView(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")

	s.SetView(geometry.Rect{X: 0, Y: 0, Width: 200, Height: 200})
	res := s.ApplyCanvasCommand(context.Background(), command.CanvasAction{Action: "create", Target: "rect"})

	require.True(t, res.Success, res.Error)
	require.Len(t, res.CreatedShapes, 1)
	assert.Equal(t, geometry.Point{X: 40, Y: 60}, res.CreatedShapes[0].Position())
	assert.Len(t, s.Shapes(), 1)
}

func TestDeleteShapePrunesSelection(t *testing.T) {
	h := newHarness(t)
	s := h.open(t, "u1", "Alice")
	ctx := context.Background()

	shape, err := s.AddShape(ctx, model.Shape{Type: model.Rect, Width: 10, Height: 10})
	require.NoError(t, err)
	require.True(t, s.Select(shape.ID))

	require.NoError(t, s.DeleteShape(ctx, shape.ID))
	assert.Empty(t, s.Selection())
	assert.Empty(t, s.Shapes())
}
