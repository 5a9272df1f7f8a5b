package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collabcanvas/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the Redis backend touches.
const DefaultPrefix = "canvas"

const (
	positionTTL      = 10 * time.Minute
	maxUpdateRetries = 5
	watchReadyWait   = 5 * time.Second
)

// RedisBackend keeps each document's sub-channels in hashes:
//
//	{prefix}:{doc}:presence  field userID
//	{prefix}:{doc}:drag      field shapeID/userID
//	{prefix}:{doc}:resize    field shapeID/userID
//
// Every write publishes the kind on {prefix}:{doc}:events.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(documentID string, kind Kind) string {
	return b.prefix + ":" + documentID + ":" + string(kind)
}

func (b *RedisBackend) eventsKey(documentID string) string {
	return b.prefix + ":" + documentID + ":events"
}

func (b *RedisBackend) Now(ctx context.Context) (int64, error) {
	t, err := b.client.Time(ctx).Result()
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func (b *RedisBackend) Put(ctx context.Context, documentID string, kind Kind, field string, value []byte) error {
	key := b.key(documentID, kind)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		if kind != PresenceKind {
			pipe.Expire(ctx, key, positionTTL)
		}
		pipe.Publish(ctx, b.eventsKey(documentID), string(kind))
		return nil
	})
	return err
}

func (b *RedisBackend) Delete(ctx context.Context, documentID string, kind Kind, field string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, b.key(documentID, kind), field)
		pipe.Publish(ctx, b.eventsKey(documentID), string(kind))
		return nil
	})
	return err
}

// Update runs fn under WATCH so a concurrent write to the hash aborts and retries it.
func (b *RedisBackend) Update(ctx context.Context, documentID string, kind Kind, field string, fn func([]byte) ([]byte, Mutation)) error {
	key := b.key(documentID, kind)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, field).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		next, mutation := fn(current)
		if mutation == Keep {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if mutation == Remove {
				pipe.HDel(ctx, key, field)
			} else {
				pipe.HSet(ctx, key, field, next)
			}
			pipe.Publish(ctx, b.eventsKey(documentID), string(kind))
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update %s %s: too much contention", key, field)
}

func (b *RedisBackend) Load(ctx context.Context, documentID string, kind Kind) (map[string][]byte, error) {
	values, err := b.client.HGetAll(ctx, b.key(documentID, kind)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(values))
	for field, v := range values {
		out[field] = []byte(v)
	}
	return out, nil
}

func (b *RedisBackend) Documents(ctx context.Context, kind Kind) ([]string, error) {
	head := b.prefix + ":"
	tail := ":" + string(kind)

	var docs []string
	iter := b.client.Scan(ctx, 0, head+"*"+tail, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		docs = append(docs, strings.TrimSuffix(strings.TrimPrefix(key, head), tail))
	}
	return docs, iter.Err()
}

// Watch subscribes to the document's events channel. go-redis re-establishes the PubSub
// connection on its own after network errors.
func (b *RedisBackend) Watch(documentID string, onChange func(Kind)) func() {
	ps := b.client.Subscribe(context.Background(), b.eventsKey(documentID))

	ctx, cancel := context.WithTimeout(context.Background(), watchReadyWait)
	if _, err := ps.Receive(ctx); err != nil {
		logger.Sugar.Warnf("Subscription to %s not confirmed: %v", b.eventsKey(documentID), err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			onChange(Kind(msg.Payload))
		}
	}()

	return func() {
		if err := ps.Close(); err != nil {
			logger.Sugar.Debugf("Closing subscription to %s: %v", b.eventsKey(documentID), err)
		}
		select {
		case <-done:
		case <-time.After(watchReadyWait):
		}
	}
}
