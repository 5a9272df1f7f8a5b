// Package cleanup sweeps stale presence records: active users that went quiet are flagged
// inactive, and users that stayed inactive long enough are removed.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collabcanvas/internal/presence/model"
	"collabcanvas/pkg/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultInterval      = 60 * time.Second
	DefaultInactiveAfter = 60 * time.Second
	DefaultRemoveAfter   = 5 * time.Minute
)

// Store is the part of the ephemeral channel the sweep needs.
type Store interface {
	ListPresence(ctx context.Context) ([]model.Presence, error)
	MarkInactive(ctx context.Context, documentID, userID string, cutoff int64) (bool, error)
	RemoveInactive(ctx context.Context, documentID, userID string, cutoff int64) (bool, error)
}

type Config struct {
	Interval      time.Duration
	InactiveAfter time.Duration
	RemoveAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.InactiveAfter <= 0 {
		c.InactiveAfter = DefaultInactiveAfter
	}
	if c.RemoveAfter <= 0 {
		c.RemoveAfter = DefaultRemoveAfter
	}
	return c
}

type Stats struct {
	Marked  int `json:"marked"`
	Removed int `json:"removed"`
}

type Service struct {
	store Store
	clock clock.Clock
	cfg   Config
	log   *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewService(store Store, clk clock.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		store: store,
		clock: clk,
		cfg:   cfg.withDefaults(),
		log:   logger.Named("presence-cleanup"),
	}
}

// Start runs one sweep right away and then one per interval until Stop or ctx is done.
// Calling Start on a running service does nothing; once ctx is done the service can be started again.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.scheduledSweep(ctx)
	ticker := s.clock.Ticker(s.cfg.Interval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				s.mu.Lock()
				if s.done == done {
					s.running = false
				}
				s.mu.Unlock()
				return
			case <-ticker.C:
				s.scheduledSweep(ctx)
			}
		}
	}()
	s.log.Infof("Presence cleanup started, interval %s", s.cfg.Interval)
}

// Stop halts the schedule and waits for a sweep in progress. Safe to call when not running.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.log.Info("Presence cleanup stopped")
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerCleanup runs one sweep now. Errors are returned with the counts reached so far.
func (s *Service) TriggerCleanup(ctx context.Context) (Stats, error) {
	return s.sweep(ctx)
}

// scheduledSweep never fails; the next tick retries.
func (s *Service) scheduledSweep(ctx context.Context) {
	stats, err := s.sweep(ctx)
	if err != nil {
		s.log.Errorf("Presence sweep failed: %v", err)
		return
	}
	if stats.Marked > 0 || stats.Removed > 0 {
		s.log.Infof("Presence sweep marked %d inactive, removed %d", stats.Marked, stats.Removed)
	}
}

// sweep decides from one listing: a record flagged inactive in this sweep is not removed in
// the same sweep.
func (s *Service) sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	records, err := s.store.ListPresence(ctx)
	if err != nil {
		return stats, fmt.Errorf("list presence: %w", err)
	}

	now := s.clock.Now().UnixMilli()
	markCutoff := now - s.cfg.InactiveAfter.Milliseconds()
	removeCutoff := now - s.cfg.RemoveAfter.Milliseconds()

	for _, p := range records {
		switch {
		case p.IsActive && p.UpdatedAt < markCutoff:
			ok, err := s.store.MarkInactive(ctx, p.DocumentID, p.UserID, markCutoff)
			if err != nil {
				return stats, fmt.Errorf("mark %s inactive in %s: %w", p.UserID, p.DocumentID, err)
			}
			if ok {
				stats.Marked++
			}
		case !p.IsActive && p.UpdatedAt < removeCutoff:
			ok, err := s.store.RemoveInactive(ctx, p.DocumentID, p.UserID, removeCutoff)
			if err != nil {
				return stats, fmt.Errorf("remove %s from %s: %w", p.UserID, p.DocumentID, err)
			}
			if ok {
				stats.Removed++
			}
		}
	}
	return stats, nil
}
