// Package lock implements advisory per-shape locks.
//
// A lock is three fields on the shape. Nothing in the store enforces it: Lock writes
// unconditionally and two users racing through CanLock can both win. Well-behaved callers
// check CanLock first and treat the result as a hint. Locks older than StaleAfter read as
// unlocked everywhere, with or without a clearing write.
package lock

import (
	"context"
	"errors"
	"time"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/logger"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultStaleAfter = 5 * time.Minute
	writeConcurrency  = 8
)

// Writer is the part of the shape store locks are written through.
type Writer interface {
	Update(ctx context.Context, id string, patch model.ShapePatch, actor model.Actor) error
}

type Manager struct {
	Store      Writer
	Clock      clock.Clock
	StaleAfter time.Duration
}

func NewManager(store Writer, clk clock.Clock, staleAfter time.Duration) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Manager{Store: store, Clock: clk, StaleAfter: staleAfter}
}

// IsStale reports whether now - LockedAt exceeds threshold.
func (m *Manager) IsStale(s model.Shape, threshold time.Duration) bool {
	return m.Clock.Now().UnixMilli()-s.LockedAt > threshold.Milliseconds()
}

// LockedByOther reports whether s carries a live lock held by someone other than userID.
func (m *Manager) LockedByOther(s model.Shape, userID string) bool {
	return s.Locked() && s.LockedBy != userID && !m.IsStale(s, m.StaleAfter)
}

func (m *Manager) CanLock(shapes []model.Shape, userID string) bool {
	return m.Conflict(shapes, userID) == nil
}

// Conflict describes the first live lock held by another user, or returns nil.
func (m *Manager) Conflict(shapes []model.Shape, userID string) error {
	for _, s := range shapes {
		if m.LockedByOther(s, userID) {
			holder := s.LockedByName
			if holder == "" {
				holder = s.LockedBy
			}
			return canvaserr.Conflictf("Shape is locked by %s", holder)
		}
	}
	return nil
}

// Lock writes the lock fields to every id. It does not check existing locks.
func (m *Manager) Lock(ctx context.Context, ids []string, userID, userName string) error {
	now := m.Clock.Now().UnixMilli()
	patch := model.ShapePatch{
		LockedBy:     model.String(userID),
		LockedByName: model.String(userName),
		LockedAt:     model.Int64(now),
	}
	return m.each(ctx, ids, patch, model.Actor{UserID: userID, UserName: userName})
}

// Unlock clears the lock fields. Unlocking an unlocked or deleted shape is not an error.
func (m *Manager) Unlock(ctx context.Context, ids []string) error {
	return m.each(ctx, ids, model.ShapePatch{ClearLock: true}, model.Actor{})
}

// ReleaseStale clears the stale locks among shapes and returns how many it cleared.
func (m *Manager) ReleaseStale(ctx context.Context, shapes []model.Shape) (int, error) {
	var ids []string
	for _, s := range shapes {
		if s.Locked() && m.IsStale(s, m.StaleAfter) {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	logger.Sugar.Infof("Releasing %d stale locks", len(ids))
	return len(ids), m.Unlock(ctx, ids)
}

func (m *Manager) each(ctx context.Context, ids []string, patch model.ShapePatch, actor model.Actor) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(writeConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := m.Store.Update(ctx, id, patch, actor)
			if errors.Is(err, canvaserr.ErrNotFound) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
