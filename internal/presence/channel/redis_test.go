package channel

import (
	"context"
	"testing"
	"time"

	"collabcanvas/internal/presence/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisChannel(t *testing.T) (*Channel, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := clock.NewMock()
	clk.Set(time.UnixMilli(0))
	return New(NewRedisBackend(client, "test"), Options{Clock: clk}), mr, client
}

func TestRedisPresenceUsesServerTime(t *testing.T) {
	ch, mr, client := newRedisChannel(t)
	ctx := context.Background()
	mr.SetTime(time.UnixMilli(1_700_000_000_123))

	require.NoError(t, ch.PublishPresence(ctx, "doc-1", model.Presence{UserID: "u1", DisplayName: "Ann", IsActive: true}))

	assert.True(t, mr.Exists("test:doc-1:presence"))
	raw, err := client.HGet(ctx, "test:doc-1:presence", "u1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"updatedAt":1700000000123`)

	all, err := ch.ListPresence(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "doc-1", all[0].DocumentID)
}

func TestRedisDragLatestWinsAcrossUsers(t *testing.T) {
	ch, mr, _ := newRedisChannel(t)
	ctx := context.Background()

	var got latest[map[string]model.Position]
	unsubscribe := ch.SubscribeDrag("doc", "C", got.set)
	defer unsubscribe()

	mr.SetTime(time.UnixMilli(150))
	require.NoError(t, ch.PublishDrag(ctx, "doc", model.Position{ShapeID: "s1", UserID: "B", X: 20, Y: 20}))
	mr.SetTime(time.UnixMilli(100))
	require.NoError(t, ch.PublishDrag(ctx, "doc", model.Position{ShapeID: "s1", UserID: "A", X: 10, Y: 10}))

	require.Eventually(t, func() bool {
		v, _ := got.get()
		return v["s1"].UserID == "B"
	}, 2*time.Second, 10*time.Millisecond)

	// Stays on B after the later arrival has been processed.
	time.Sleep(50 * time.Millisecond)
	v, _ := got.get()
	assert.Equal(t, 20.0, v["s1"].X)
}

func TestRedisConditionalPresenceUpdates(t *testing.T) {
	ch, mr, _ := newRedisChannel(t)
	ctx := context.Background()
	mr.SetTime(time.UnixMilli(1_000))

	require.NoError(t, ch.PublishPresence(ctx, "doc", model.Presence{UserID: "u1", IsActive: true}))

	marked, err := ch.MarkInactive(ctx, "doc", "u1", 2_000)
	require.NoError(t, err)
	assert.True(t, marked)

	removed, err := ch.RemoveInactive(ctx, "doc", "u1", 2_000)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists("test:doc:presence"))
}

func TestRedisDragKeysExpire(t *testing.T) {
	ch, mr, _ := newRedisChannel(t)
	require.NoError(t, ch.PublishDrag(context.Background(), "doc", model.Position{ShapeID: "s1", UserID: "A"}))
	assert.Equal(t, positionTTL, mr.TTL("test:doc:drag"))
}
