package smoothing

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultFrameInterval is roughly one display frame at 60 Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler runs fn once at the next frame. cancel prevents a frame that has not started.
type Scheduler interface {
	RequestFrame(fn func()) (cancel func())
}

// ClockScheduler fires frames from a timer.
type ClockScheduler struct {
	Clock    clock.Clock
	Interval time.Duration
}

func NewClockScheduler(clk clock.Clock, interval time.Duration) *ClockScheduler {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &ClockScheduler{Clock: clk, Interval: interval}
}

func (s *ClockScheduler) RequestFrame(fn func()) func() {
	t := s.Clock.AfterFunc(s.Interval, fn)
	return func() { t.Stop() }
}

// ManualScheduler only runs frames when Step is called.
type ManualScheduler struct {
	mu     sync.Mutex
	next   uint64
	frames map[uint64]func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{frames: make(map[uint64]func())}
}

func (m *ManualScheduler) RequestFrame(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.frames[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.frames, id)
	}
}

// Step runs the frames requested before the call, in request order, and returns how many ran.
func (m *ManualScheduler) Step() int {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.frames))
	for id := range m.frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.frames[id])
		delete(m.frames, id)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}
