// Package smoothing eases rendered positions toward their latest remote targets, one step per
// frame, so discrete network updates look like continuous motion.
package smoothing

import (
	"math"
	"sync"

	"collabcanvas/pkg/geometry"
)

const (
	DefaultFactor  = 0.2
	DefaultEpsilon = 0.25
)

type Options struct {
	Factor  float64
	Epsilon float64
}

// Loop tracks a target and a smoothed position per id. It schedules frames only while some
// position has not reached its target. Targets are never modified by the loop.
type Loop struct {
	sched   Scheduler
	factor  float64
	epsilon float64

	// frameMu serializes frames with Close so no frame callback runs after Close returns.
	frameMu sync.Mutex

	mu       sync.Mutex
	targets  map[string]geometry.Point
	smoothed map[string]geometry.Point
	cancel   func()
	closed   bool
	onFrame  func(map[string]geometry.Point)
}

func NewLoop(sched Scheduler, opts Options) *Loop {
	if opts.Factor <= 0 || opts.Factor > 1 {
		opts.Factor = DefaultFactor
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	return &Loop{
		sched:    sched,
		factor:   opts.Factor,
		epsilon:  opts.Epsilon,
		targets:  make(map[string]geometry.Point),
		smoothed: make(map[string]geometry.Point),
	}
}

// OnFrame registers fn to receive the smoothed positions after every frame. fn must not call
// Close.
func (l *Loop) OnFrame(fn func(map[string]geometry.Point)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onFrame = fn
}

// SetTarget moves the target of id. A new id starts at its target.
func (l *Loop) SetTarget(id string, p geometry.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets[id] = p
	if _, ok := l.smoothed[id]; !ok {
		l.smoothed[id] = p
	}
	l.ensureRunning()
}

// SyncTargets replaces the whole target set. Ids missing from targets are pruned on the
// next frame.
func (l *Loop) SyncTargets(targets map[string]geometry.Point) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets = make(map[string]geometry.Point, len(targets))
	for id, p := range targets {
		l.targets[id] = p
		if _, ok := l.smoothed[id]; !ok {
			l.smoothed[id] = p
		}
	}
	l.ensureRunning()
}

func (l *Loop) RemoveTarget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.targets, id)
	l.ensureRunning()
}

// Positions returns a copy of the smoothed positions.
func (l *Loop) Positions() map[string]geometry.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyPoints(l.smoothed)
}

func (l *Loop) Target(id string) (geometry.Point, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.targets[id]
	return p, ok
}

// Running reports whether a frame is scheduled.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Close cancels the pending frame and waits for a frame in progress. Later calls do nothing.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()

	l.frameMu.Lock()
	defer l.frameMu.Unlock()
}

// ensureRunning must be called with mu held.
func (l *Loop) ensureRunning() {
	if l.closed || l.cancel != nil {
		return
	}
	l.cancel = l.sched.RequestFrame(l.frame)
}

func (l *Loop) frame() {
	l.frameMu.Lock()
	defer l.frameMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.cancel = nil

	for id := range l.smoothed {
		if _, ok := l.targets[id]; !ok {
			delete(l.smoothed, id)
		}
	}

	moving := false
	for id, target := range l.targets {
		cur := l.smoothed[id]
		dx, dy := target.X-cur.X, target.Y-cur.Y
		if math.Abs(dx) < l.epsilon && math.Abs(dy) < l.epsilon {
			l.smoothed[id] = target
			continue
		}
		l.smoothed[id] = geometry.Point{X: cur.X + dx*l.factor, Y: cur.Y + dy*l.factor}
		moving = true
	}
	if moving {
		l.cancel = l.sched.RequestFrame(l.frame)
	}

	snapshot := copyPoints(l.smoothed)
	onFrame := l.onFrame
	l.mu.Unlock()

	if onFrame != nil {
		onFrame(snapshot)
	}
}

func copyPoints(m map[string]geometry.Point) map[string]geometry.Point {
	out := make(map[string]geometry.Point, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
