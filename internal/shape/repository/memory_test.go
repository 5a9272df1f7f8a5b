package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bob = model.Actor{UserID: "u2", UserName: "Bob"}

func newMemory(t *testing.T) (*MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.UnixMilli(1_700_000_000_000))
	return NewMemoryStore(Options{Clock: clk, HistoryCap: 3}), clk
}

func TestMemoryStoreDeliversFullSnapshots(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()

	var deliveries [][]model.Shape
	unsubscribe := store.Subscribe("doc", func(shapes []model.Shape) {
		deliveries = append(deliveries, shapes)
	})
	defer unsubscribe()

	require.Len(t, deliveries, 1, "subscribe delivers the current set immediately")
	assert.Empty(t, deliveries[0])

	require.NoError(t, store.Create(ctx, model.Shape{ID: "b", DocumentID: "doc", Z: 1}))
	require.NoError(t, store.Create(ctx, model.Shape{ID: "a", DocumentID: "doc", Z: 1}))
	require.NoError(t, store.Create(ctx, model.Shape{ID: "c", DocumentID: "doc", Z: 0}))
	require.NoError(t, store.Create(ctx, model.Shape{ID: "x", DocumentID: "other"}))

	require.Len(t, deliveries, 4, "writes to other documents are not delivered")
	last := deliveries[len(deliveries)-1]
	require.Len(t, last, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{last[0].ID, last[1].ID, last[2].ID}, "paint order is z then id")
}

func TestMemoryStoreUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	store, _ := newMemory(t)
	calls := 0
	unsubscribe := store.Subscribe("doc", func([]model.Shape) { calls++ })
	unsubscribe()
	unsubscribe()

	require.NoError(t, store.Create(context.Background(), model.Shape{DocumentID: "doc"}))
	assert.Equal(t, 1, calls)
}

func TestMemoryStoreUpdateDerivesHistory(t *testing.T) {
	store, clk := newMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc", X: 0, Y: 0, Width: 100, Height: 100}))

	clk.Add(time.Second)
	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{X: model.Float(50)}, bob))

	shape, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, shape.History, 1)
	assert.Equal(t, "moved", shape.History[0].Action)
	assert.Equal(t, "Bob", shape.History[0].UserName)
	assert.Equal(t, clk.Now().UnixMilli(), shape.UpdatedAt)

	// Sub-threshold nudge: no entry.
	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{X: model.Float(51)}, bob))
	shape, _ = store.Get(ctx, "s1")
	assert.Len(t, shape.History, 1)

	// Cap applies.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{Y: model.Float(float64(100 * (i + 1)))}, bob))
	}
	shape, _ = store.Get(ctx, "s1")
	assert.Len(t, shape.History, 3)
}

func TestMemoryStoreExplicitHistorySkipsDerivation(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc"}))

	explicit := []model.HistoryEntry{{Type: model.HistoryComment, Text: "hi"}}
	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{X: model.Float(500), History: explicit}, bob))

	shape, _ := store.Get(ctx, "s1")
	require.Len(t, shape.History, 1)
	assert.Equal(t, "hi", shape.History[0].Text)
}

func TestMemoryStoreFailuresAreStoreErrors(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	store.SetFailure(errors.New("connection reset"))

	err := store.Create(ctx, model.Shape{DocumentID: "doc"})
	require.Error(t, err)
	assert.True(t, canvaserr.IsStore(err))

	store.SetFailure(nil)
	assert.NoError(t, store.Create(ctx, model.Shape{DocumentID: "doc"}))
}

func TestMemoryStoreUpdateMissingShape(t *testing.T) {
	store, _ := newMemory(t)
	err := store.Update(context.Background(), "nope", model.ShapePatch{}, bob)
	assert.ErrorIs(t, err, canvaserr.ErrNotFound)
}

func TestMemoryStoreDeleteAll(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, model.Shape{DocumentID: "doc"}))
	}
	require.NoError(t, store.Create(ctx, model.Shape{DocumentID: "keep"}))

	require.NoError(t, store.DeleteAll(ctx, "doc"))

	shapes, _ := store.List(ctx, "doc")
	assert.Empty(t, shapes)
	kept, _ := store.List(ctx, "keep")
	assert.Len(t, kept, 1)
}

func TestClearLockPatch(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc", LockedBy: "u1", LockedByName: "Alice", LockedAt: 10}))

	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{ClearLock: true}, bob))
	shape, _ := store.Get(ctx, "s1")
	assert.False(t, shape.Locked())
	assert.Zero(t, shape.LockedAt)
	assert.Empty(t, shape.History, "lock fields are not tracked edits")
}

func TestMemoryStoreExplicitHistoryIsCapped(t *testing.T) {
	store, _ := newMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc"}))

	explicit := make([]model.HistoryEntry, 15)
	for i := range explicit {
		explicit[i] = model.HistoryEntry{Type: model.HistoryComment, Text: string(rune('a' + i))}
	}
	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{History: explicit}, bob))

	shape, _ := store.Get(ctx, "s1")
	require.Len(t, shape.History, 3)
	assert.Equal(t, "a", shape.History[0].Text, "newest entries are kept")
	assert.Equal(t, "c", shape.History[2].Text)
}

func TestMemoryStoreSkipsPatchesThatChangeNothing(t *testing.T) {
	store, clk := newMemory(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, model.Shape{ID: "s1", DocumentID: "doc", X: 10}))
	created, _ := store.Get(ctx, "s1")

	deliveries := 0
	unsubscribe := store.Subscribe("doc", func([]model.Shape) { deliveries++ })
	defer unsubscribe()

	clk.Add(time.Second)
	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{ClearLock: true}, bob))
	require.NoError(t, store.Update(ctx, "s1", model.ShapePatch{X: model.Float(10)}, bob))

	shape, _ := store.Get(ctx, "s1")
	assert.Equal(t, created, shape)
	assert.Equal(t, 1, deliveries)
}
