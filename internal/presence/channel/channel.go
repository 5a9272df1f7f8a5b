// Package channel is the ephemeral, best-effort side of synchronization: presence, live drag
// and live resize broadcasts. Nothing here is durable; every value is overwritten by the next
// publish, so failed writes are retried once and then dropped.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"collabcanvas/internal/presence/model"
	"collabcanvas/pkg/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultRetryDelay = 100 * time.Millisecond
	loadTimeout       = 3 * time.Second
)

type Options struct {
	Clock           clock.Clock
	EventsPerSecond float64
	RetryDelay      time.Duration
}

type Channel struct {
	backend  Backend
	clock    clock.Clock
	retry    time.Duration
	throttle *Throttle
	log      *zap.SugaredLogger
}

func New(backend Backend, opts Options) *Channel {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Channel{
		backend:  backend,
		clock:    opts.Clock,
		retry:    opts.RetryDelay,
		throttle: NewThrottle(opts.EventsPerSecond, opts.Clock),
		log:      logger.Named("ephemeral"),
	}
}

// PublishPresence writes p with a server-assigned UpdatedAt.
func (c *Channel) PublishPresence(ctx context.Context, documentID string, p model.Presence) error {
	p.DocumentID = documentID
	c.withRetry(ctx, "presence "+p.UserID, func(ctx context.Context) error {
		now, err := c.backend.Now(ctx)
		if err != nil {
			return err
		}
		p.UpdatedAt = now
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return c.backend.Put(ctx, documentID, PresenceKind, p.UserID, data)
	})
	return nil
}

func (c *Channel) RemovePresence(ctx context.Context, documentID, userID string) error {
	c.withRetry(ctx, "presence removal "+userID, func(ctx context.Context) error {
		return c.backend.Delete(ctx, documentID, PresenceKind, userID)
	})
	return nil
}

// ListPresence returns every presence record of every document.
func (c *Channel) ListPresence(ctx context.Context) ([]model.Presence, error) {
	docs, err := c.backend.Documents(ctx, PresenceKind)
	if err != nil {
		return nil, fmt.Errorf("list presence documents: %w", err)
	}
	var out []model.Presence
	for _, doc := range docs {
		raw, err := c.backend.Load(ctx, doc, PresenceKind)
		if err != nil {
			return nil, fmt.Errorf("load presence of %s: %w", doc, err)
		}
		for _, p := range decodePresence(raw) {
			p.DocumentID = doc
			out = append(out, p)
		}
	}
	return out, nil
}

// MarkInactive flags the record inactive if it is still active and was last updated before
// cutoff (epoch ms). UpdatedAt is left as is. It reports whether the record changed.
func (c *Channel) MarkInactive(ctx context.Context, documentID, userID string, cutoff int64) (bool, error) {
	changed := false
	err := c.backend.Update(ctx, documentID, PresenceKind, userID, func(current []byte) ([]byte, Mutation) {
		changed = false
		var p model.Presence
		if current == nil || json.Unmarshal(current, &p) != nil {
			return nil, Keep
		}
		if !p.IsActive || p.UpdatedAt >= cutoff {
			return nil, Keep
		}
		p.IsActive = false
		data, err := json.Marshal(p)
		if err != nil {
			return nil, Keep
		}
		changed = true
		return data, Replace
	})
	return changed, err
}

// RemoveInactive deletes the record if it is inactive and was last updated before cutoff.
func (c *Channel) RemoveInactive(ctx context.Context, documentID, userID string, cutoff int64) (bool, error) {
	removed := false
	err := c.backend.Update(ctx, documentID, PresenceKind, userID, func(current []byte) ([]byte, Mutation) {
		removed = false
		var p model.Presence
		if current == nil || json.Unmarshal(current, &p) != nil {
			return nil, Keep
		}
		if p.IsActive || p.UpdatedAt >= cutoff {
			return nil, Keep
		}
		removed = true
		return nil, Remove
	})
	return removed, err
}

// SubscribePresence delivers the full presence map of a document, keyed by user id.
func (c *Channel) SubscribePresence(documentID string, onChange func(map[string]model.Presence)) func() {
	return c.watch(documentID, PresenceKind, func(raw map[string][]byte) {
		out := make(map[string]model.Presence, len(raw))
		for _, p := range decodePresence(raw) {
			out[p.UserID] = p
		}
		onChange(out)
	})
}

// PublishDrag broadcasts a live drag position. Calls faster than the per (shape, user) rate
// are dropped.
func (c *Channel) PublishDrag(ctx context.Context, documentID string, pos model.Position) error {
	return c.publishPosition(ctx, documentID, DragKind, pos)
}

func (c *Channel) ClearDrag(ctx context.Context, documentID, shapeID, userID string) error {
	return c.clearPosition(ctx, documentID, DragKind, shapeID, userID)
}

// SubscribeDrag delivers, per shape, the most recent drag position of any user other than
// localUserID.
func (c *Channel) SubscribeDrag(documentID, localUserID string, onChange func(map[string]model.Position)) func() {
	return c.subscribePositions(documentID, DragKind, localUserID, onChange)
}

func (c *Channel) PublishResize(ctx context.Context, documentID string, pos model.Position) error {
	return c.publishPosition(ctx, documentID, ResizeKind, pos)
}

func (c *Channel) ClearResize(ctx context.Context, documentID, shapeID, userID string) error {
	return c.clearPosition(ctx, documentID, ResizeKind, shapeID, userID)
}

func (c *Channel) SubscribeResize(documentID, localUserID string, onChange func(map[string]model.Position)) func() {
	return c.subscribePositions(documentID, ResizeKind, localUserID, onChange)
}

func positionField(shapeID, userID string) string {
	return shapeID + "/" + userID
}

func throttleKey(documentID string, kind Kind, shapeID, userID string) string {
	return strings.Join([]string{documentID, string(kind), shapeID, userID}, "|")
}

func (c *Channel) publishPosition(ctx context.Context, documentID string, kind Kind, pos model.Position) error {
	if pos.ShapeID == "" || pos.UserID == "" {
		return fmt.Errorf("%s position needs shape and user ids", kind)
	}
	if !c.throttle.Allow(throttleKey(documentID, kind, pos.ShapeID, pos.UserID)) {
		return nil
	}
	c.withRetry(ctx, string(kind)+" "+pos.ShapeID, func(ctx context.Context) error {
		now, err := c.backend.Now(ctx)
		if err != nil {
			return err
		}
		pos.UpdatedAt = now
		data, err := json.Marshal(pos)
		if err != nil {
			return err
		}
		return c.backend.Put(ctx, documentID, kind, positionField(pos.ShapeID, pos.UserID), data)
	})
	return nil
}

func (c *Channel) clearPosition(ctx context.Context, documentID string, kind Kind, shapeID, userID string) error {
	c.throttle.Forget(throttleKey(documentID, kind, shapeID, userID))
	c.withRetry(ctx, string(kind)+" clear "+shapeID, func(ctx context.Context) error {
		return c.backend.Delete(ctx, documentID, kind, positionField(shapeID, userID))
	})
	return nil
}

func (c *Channel) subscribePositions(documentID string, kind Kind, localUserID string, onChange func(map[string]model.Position)) func() {
	return c.watch(documentID, kind, func(raw map[string][]byte) {
		positions := make([]model.Position, 0, len(raw))
		for field, v := range raw {
			var p model.Position
			if err := json.Unmarshal(v, &p); err != nil {
				c.log.Warnf("Skipping undecodable %s entry %s: %v", kind, field, err)
				continue
			}
			positions = append(positions, p)
		}
		onChange(model.Latest(positions, localUserID))
	})
}

// watch loads the sub-channel once and again after every change notice. Notices that
// arrive while a load is pending are coalesced. After cancel returns deliver is not called
// again; deliver must not call cancel.
func (c *Channel) watch(documentID string, kind Kind, deliver func(map[string][]byte)) func() {
	dirty := make(chan struct{}, 1)
	stop := make(chan struct{})
	notify := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	var mu sync.Mutex
	active := true

	cancelWatch := c.backend.Watch(documentID, func(k Kind) {
		if k == kind {
			notify()
		}
	})
	notify()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-dirty:
			}
			ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
			raw, err := c.backend.Load(ctx, documentID, kind)
			cancel()
			if err != nil {
				c.log.Warnf("Failed to load %s of doc %s: %v", kind, documentID, err)
				continue
			}
			mu.Lock()
			if active {
				deliver(raw)
			}
			mu.Unlock()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelWatch()
			mu.Lock()
			active = false
			mu.Unlock()
			close(stop)
		})
	}
}

// withRetry runs op and, on failure, once more after the retry delay. A second failure is
// logged and dropped.
func (c *Channel) withRetry(ctx context.Context, what string, op func(context.Context) error) {
	err := op(ctx)
	if err == nil {
		return
	}
	c.log.Warnf("Publish %s failed, retrying in %s: %v", what, c.retry, err)

	timer := c.clock.Timer(c.retry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.log.Warnf("Dropping %s: %v", what, ctx.Err())
		return
	case <-timer.C:
	}
	if err := op(ctx); err != nil {
		c.log.Errorf("Dropping %s after retry: %v", what, err)
	}
}

func decodePresence(raw map[string][]byte) []model.Presence {
	out := make([]model.Presence, 0, len(raw))
	for _, v := range raw {
		var p model.Presence
		if err := json.Unmarshal(v, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
