// Package selection holds one user's selection over the current shape set. The selection is
// never persisted and never refers to a shape that is not in the last delivered set.
package selection

import (
	"context"
	"sync"

	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
)

const (
	DefaultMaxSelection = 50
	// MinBoxSize is the size, in canvas units, a selection box must exceed on both axes.
	MinBoxSize = 5.0
)

type State int

const (
	Idle State = iota
	Selecting
)

func (s State) String() string {
	if s == Selecting {
		return "selecting"
	}
	return "idle"
}

// Locks is the part of the lock manager selection relies on.
type Locks interface {
	LockedByOther(s model.Shape, userID string) bool
	Conflict(shapes []model.Shape, userID string) error
	Lock(ctx context.Context, ids []string, userID, userName string) error
	Unlock(ctx context.Context, ids []string) error
}

type Engine struct {
	locks Locks
	actor model.Actor
	max   int

	mu       sync.Mutex
	shapes   map[string]model.Shape
	order    []string
	selected []string
	state    State
	boxStart geometry.Point
	boxEnd   geometry.Point
	onChange func([]string)
}

func New(locks Locks, actor model.Actor, maxSelection int) *Engine {
	if maxSelection <= 0 {
		maxSelection = DefaultMaxSelection
	}
	return &Engine{
		locks:  locks,
		actor:  actor,
		max:    maxSelection,
		shapes: make(map[string]model.Shape),
	}
}

// OnChange registers fn to receive the selection after every change.
func (e *Engine) OnChange(fn func(ids []string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// SetShapes replaces the known shape set and drops selected ids that no longer exist.
func (e *Engine) SetShapes(shapes []model.Shape) {
	e.mu.Lock()
	e.shapes = make(map[string]model.Shape, len(shapes))
	e.order = make([]string, 0, len(shapes))
	for _, s := range shapes {
		e.shapes[s.ID] = s
		e.order = append(e.order, s.ID)
	}
	kept := e.selected[:0:0]
	for _, id := range e.selected {
		if _, ok := e.shapes[id]; ok {
			kept = append(kept, id)
		}
	}
	changed := len(kept) != len(e.selected)
	e.selected = kept
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

// CanSelect reports whether id exists and is not locked by another user.
func (e *Engine) CanSelect(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canSelect(id)
}

func (e *Engine) canSelect(id string) bool {
	s, ok := e.shapes[id]
	if !ok {
		return false
	}
	return !e.locks.LockedByOther(s, e.actor.UserID)
}

func (e *Engine) indexOf(id string) int {
	for i, sel := range e.selected {
		if sel == id {
			return i
		}
	}
	return -1
}

// Select adds id. It reports whether id is selected afterwards.
func (e *Engine) Select(id string) bool {
	e.mu.Lock()
	if e.indexOf(id) >= 0 {
		e.mu.Unlock()
		return true
	}
	if !e.canSelect(id) || len(e.selected) >= e.max {
		e.mu.Unlock()
		return false
	}
	e.selected = append(e.selected, id)
	e.mu.Unlock()

	e.notify()
	return true
}

func (e *Engine) Deselect(id string) {
	e.mu.Lock()
	i := e.indexOf(id)
	if i < 0 {
		e.mu.Unlock()
		return
	}
	e.selected = append(e.selected[:i:i], e.selected[i+1:]...)
	e.mu.Unlock()

	e.notify()
}

// Toggle flips id and reports whether it is selected afterwards.
func (e *Engine) Toggle(id string) bool {
	e.mu.Lock()
	selected := e.indexOf(id) >= 0
	e.mu.Unlock()

	if selected {
		e.Deselect(id)
		return false
	}
	return e.Select(id)
}

// SelectAll selects every selectable shape in paint order, up to the cap.
func (e *Engine) SelectAll() {
	e.mu.Lock()
	e.selected = e.selectable(e.order)
	e.mu.Unlock()

	e.notify()
}

func (e *Engine) Clear() {
	e.mu.Lock()
	if len(e.selected) == 0 {
		e.mu.Unlock()
		return
	}
	e.selected = nil
	e.mu.Unlock()

	e.notify()
}

func (e *Engine) selectable(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(out) >= e.max {
			break
		}
		if e.canSelect(id) {
			out = append(out, id)
		}
	}
	return out
}

// Selected returns the selected ids in the order they were selected.
func (e *Engine) Selected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.selected...)
}

func (e *Engine) IsSelected(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexOf(id) >= 0
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Box returns the selection rectangle while a box gesture is in progress.
func (e *Engine) Box() (geometry.Rect, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Selecting {
		return geometry.Rect{}, false
	}
	return geometry.RectFromPoints(e.boxStart, e.boxEnd), true
}

// BeginBox starts a box gesture at p. Without the modifier it does nothing.
func (e *Engine) BeginBox(p geometry.Point, modifierHeld bool) bool {
	if !modifierHeld {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Selecting
	e.boxStart, e.boxEnd = p, p
	return true
}

func (e *Engine) UpdateBox(p geometry.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Selecting {
		e.boxEnd = p
	}
}

// EndBox finishes the gesture. A box larger than MinBoxSize on both axes replaces the
// selection with the selectable shapes whose bounds intersect it; it reports whether that
// happened.
func (e *Engine) EndBox() bool {
	e.mu.Lock()
	if e.state != Selecting {
		e.mu.Unlock()
		return false
	}
	e.state = Idle
	box := geometry.RectFromPoints(e.boxStart, e.boxEnd)
	if box.Width <= MinBoxSize || box.Height <= MinBoxSize {
		e.mu.Unlock()
		return false
	}

	var hits []string
	for _, id := range e.order {
		if e.shapes[id].Bounds().Intersects(box) {
			hits = append(hits, id)
		}
	}
	e.selected = e.selectable(hits)
	e.mu.Unlock()

	e.notify()
	return true
}

// ReleaseModifier ends a box gesture in progress, as EndBox does.
func (e *Engine) ReleaseModifier() bool {
	return e.EndBox()
}

// LockSelection locks every selected shape for the engine's user. It returns a
// *canvaserr.Conflict without writing when another user holds a live lock on one of them.
func (e *Engine) LockSelection(ctx context.Context) error {
	shapes := e.selectedShapes()
	if len(shapes) == 0 {
		return nil
	}
	if err := e.locks.Conflict(shapes, e.actor.UserID); err != nil {
		return err
	}
	return e.locks.Lock(ctx, ids(shapes), e.actor.UserID, e.actor.UserName)
}

// UnlockSelection releases the selected shapes, leaving live locks of other users alone.
func (e *Engine) UnlockSelection(ctx context.Context) error {
	shapes := e.selectedShapes()
	if len(shapes) == 0 {
		return nil
	}
	var mine []string
	for _, s := range shapes {
		if !e.locks.LockedByOther(s, e.actor.UserID) {
			mine = append(mine, s.ID)
		}
	}
	if len(mine) == 0 {
		return nil
	}
	return e.locks.Unlock(ctx, mine)
}

func (e *Engine) selectedShapes() []model.Shape {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Shape, 0, len(e.selected))
	for _, id := range e.selected {
		if s, ok := e.shapes[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onChange
	ids := append([]string(nil), e.selected...)
	e.mu.Unlock()

	if fn != nil {
		fn(ids)
	}
}

func ids(shapes []model.Shape) []string {
	out := make([]string, len(shapes))
	for i, s := range shapes {
		out[i] = s.ID
	}
	return out
}
