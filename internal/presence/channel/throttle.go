package channel

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// DefaultEventsPerSecond caps drag and resize publishes per (shape, user).
const DefaultEventsPerSecond = 30

// minIdle is the shortest time a key must go unused before its limiter is dropped.
const minIdle = time.Second

// Throttle admits at most perSecond events per key. Calls that arrive early are refused,
// never queued. Keys unused for longer than the refill window are forgotten on a later call.
type Throttle struct {
	clock clock.Clock
	limit rate.Limit
	idle  time.Duration

	mu        sync.Mutex
	limiters  map[string]*throttleEntry
	lastPrune time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewThrottle(perSecond float64, clk clock.Clock) *Throttle {
	if perSecond <= 0 {
		perSecond = DefaultEventsPerSecond
	}
	if clk == nil {
		clk = clock.New()
	}
	idle := time.Duration(float64(time.Second) / perSecond)
	if idle < minIdle {
		idle = minIdle
	}
	return &Throttle{
		clock:    clk,
		limit:    rate.Limit(perSecond),
		idle:     idle,
		limiters: make(map[string]*throttleEntry),
	}
}

func (t *Throttle) Allow(key string) bool {
	now := t.clock.Now()

	t.mu.Lock()
	if now.Sub(t.lastPrune) > t.idle {
		t.prune(now)
	}
	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, 1)}
		t.limiters[key] = e
	}
	e.lastSeen = now
	t.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Forget drops the limiter of key, so the next call is admitted immediately.
func (t *Throttle) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.limiters, key)
}

// prune drops limiters idle past the refill window; they would admit the next call anyway.
// Callers hold t.mu.
func (t *Throttle) prune(now time.Time) {
	for key, e := range t.limiters {
		if now.Sub(e.lastSeen) > t.idle {
			delete(t.limiters, key)
		}
	}
	t.lastPrune = now
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
