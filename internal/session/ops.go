package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/command"
	groupmodel "collabcanvas/internal/group/model"
	"collabcanvas/internal/history"
	presencemodel "collabcanvas/internal/presence/model"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/geometry"
)

var ErrClosed = errors.New("session closed")

// AddShape stores shape on top of the current paint order. A missing id is generated.
func (s *Session) AddShape(ctx context.Context, shape model.Shape) (model.Shape, error) {
	if s.isClosed() {
		return model.Shape{}, ErrClosed
	}
	if shape.ID == "" {
		shape.ID = model.NewID()
	}
	shape.DocumentID = s.documentID
	shape.CreatedBy = s.user.ID
	if shape.Z == 0 {
		shape.Z = model.MaxZ(s.Shapes()) + 1
	}
	shape.Rotation = geometry.NormalizeAngle(shape.Rotation)
	if err := s.record("add shape", s.deps.Shapes.Create(ctx, shape)); err != nil {
		return model.Shape{}, err
	}
	return shape, nil
}

func (s *Session) UpdateShape(ctx context.Context, id string, patch model.ShapePatch) error {
	if s.isClosed() {
		return ErrClosed
	}
	if patch.Rotation != nil {
		patch.Rotation = model.Float(geometry.NormalizeAngle(*patch.Rotation))
	}
	return s.record("update shape", s.deps.Shapes.Update(ctx, id, patch, s.actor))
}

func (s *Session) DeleteShape(ctx context.Context, id string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.selection.Deselect(id)
	return s.record("delete shape", s.deps.Shapes.Delete(ctx, id))
}

func (s *Session) ClearAllShapes(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.selection.Clear()
	return s.record("clear shapes", s.deps.Shapes.DeleteAll(ctx, s.documentID))
}

// AddComment prepends a comment to the shape history and bumps its comment counters.
func (s *Session) AddComment(ctx context.Context, shapeID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return canvaserr.Invalid("text", text, "must not be empty")
	}
	shape, ok := s.shape(shapeID)
	if !ok {
		return s.record("comment", fmt.Errorf("shape %s: %w", shapeID, canvaserr.ErrNotFound))
	}
	now := s.deps.Clock.Now()
	entry := history.NewComment(s.actor, text, now)
	patch := model.ShapePatch{
		History:       history.AddToHistory(shape.History, entry, s.opts.HistoryCap),
		Comments:      model.Int(shape.Comments + 1),
		LastCommentAt: model.Int64(now.UnixMilli()),
	}
	return s.record("comment", s.deps.Shapes.Update(ctx, shapeID, patch, s.actor))
}

// PublishDragUpdate broadcasts where the local user is dragging shapeID. Calls above the
// channel rate are dropped.
func (s *Session) PublishDragUpdate(ctx context.Context, shapeID string, p geometry.Point) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.deps.Channel.PublishDrag(ctx, s.documentID, presencemodel.Position{
		ShapeID: shapeID,
		UserID:  s.user.ID,
		X:       p.X,
		Y:       p.Y,
	})
}

func (s *Session) ClearDragUpdate(ctx context.Context, shapeID string) error {
	return s.deps.Channel.ClearDrag(ctx, s.documentID, shapeID, s.user.ID)
}

func (s *Session) PublishResizeUpdate(ctx context.Context, shapeID string, bounds geometry.Rect) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.deps.Channel.PublishResize(ctx, s.documentID, presencemodel.Position{
		ShapeID: shapeID,
		UserID:  s.user.ID,
		X:       bounds.X,
		Y:       bounds.Y,
		Width:   model.Float(bounds.Width),
		Height:  model.Float(bounds.Height),
	})
}

func (s *Session) ClearResizeUpdate(ctx context.Context, shapeID string) error {
	return s.deps.Channel.ClearResize(ctx, s.documentID, shapeID, s.user.ID)
}

// Join publishes the user as active with no cursor.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	s.leaving = false
	s.mu.Unlock()
	return s.publishPresence(ctx, nil)
}

// Leave removes the user's presence record. Cursor updates stop first, and a cursor publish
// already in flight finishes before the removal so it cannot bring the record back.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	s.leaving = true
	if s.cursorTimer != nil {
		s.cursorTimer.Stop()
		s.cursorTimer = nil
	}
	s.pendingCursor = nil
	inFlight := s.cursorFlush
	s.mu.Unlock()

	if inFlight != nil {
		select {
		case <-inFlight:
		case <-ctx.Done():
		}
	}
	return s.deps.Channel.RemovePresence(ctx, s.documentID, s.user.ID)
}

func (s *Session) publishPresence(ctx context.Context, cursor *geometry.Point) error {
	return s.deps.Channel.PublishPresence(ctx, s.documentID, presencemodel.Presence{
		UserID:      s.user.ID,
		DisplayName: s.user.Name,
		Color:       s.user.Color,
		Cursor:      cursor,
		IsActive:    true,
	})
}

// UpdateCursor debounces cursor publishes: the newest position replaces any pending one and
// at most one publish is in flight.
func (s *Session) UpdateCursor(p geometry.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.leaving {
		return
	}
	s.pendingCursor = &p
	if s.cursorTimer == nil && s.cursorFlush == nil {
		s.cursorTimer = s.deps.Clock.AfterFunc(s.opts.CursorDebounce, s.flushCursor)
	}
}

func (s *Session) flushCursor() {
	s.mu.Lock()
	s.cursorTimer = nil
	if s.closed || s.leaving || s.pendingCursor == nil {
		s.mu.Unlock()
		return
	}
	p := *s.pendingCursor
	s.pendingCursor = nil
	flushed := make(chan struct{})
	s.cursorFlush = flushed
	s.mu.Unlock()

	ctx, cancel := s.background()
	err := s.publishPresence(ctx, &p)
	cancel()
	if err != nil {
		s.log.Warnf("Cursor publish failed: %v", err)
	}

	s.mu.Lock()
	s.cursorFlush = nil
	close(flushed)
	if s.pendingCursor != nil && !s.closed && !s.leaving && s.cursorTimer == nil {
		s.cursorTimer = s.deps.Clock.AfterFunc(s.opts.CursorDebounce, s.flushCursor)
	}
	s.mu.Unlock()
}

func (s *Session) Select(id string) bool { return s.selection.Select(id) }

func (s *Session) Deselect(id string) { s.selection.Deselect(id) }

func (s *Session) ToggleSelection(id string) bool { return s.selection.Toggle(id) }

func (s *Session) SelectAll() { s.selection.SelectAll() }

func (s *Session) ClearSelection() { s.selection.Clear() }

func (s *Session) BeginSelectionBox(p geometry.Point, modifierHeld bool) bool {
	return s.selection.BeginBox(p, modifierHeld)
}

func (s *Session) UpdateSelectionBox(p geometry.Point) { s.selection.UpdateBox(p) }

func (s *Session) EndSelectionBox() bool { return s.selection.EndBox() }

func (s *Session) ReleaseModifier() bool { return s.selection.ReleaseModifier() }

func (s *Session) LockSelection(ctx context.Context) error {
	return s.record("lock selection", s.selection.LockSelection(ctx))
}

func (s *Session) UnlockSelection(ctx context.Context) error {
	return s.record("unlock selection", s.selection.UnlockSelection(ctx))
}

func (s *Session) shapesByID(ids []string) []model.Shape {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Shape
	for _, shape := range s.Shapes() {
		if want[shape.ID] {
			out = append(out, shape)
		}
	}
	return out
}

// CanLock reports whether no shape among ids carries a live lock of another user.
func (s *Session) CanLock(ids []string) bool {
	return s.deps.Locks.CanLock(s.shapesByID(ids), s.user.ID)
}

// LockShapes checks for conflicting locks first and then writes the lock unconditionally.
func (s *Session) LockShapes(ctx context.Context, ids []string) error {
	if err := s.deps.Locks.Conflict(s.shapesByID(ids), s.user.ID); err != nil {
		return err
	}
	return s.record("lock", s.deps.Locks.Lock(ctx, ids, s.user.ID, s.user.Name))
}

func (s *Session) UnlockShapes(ctx context.Context, ids []string) error {
	return s.record("unlock", s.deps.Locks.Unlock(ctx, ids))
}

// ReleaseStaleLocks clears expired locks in the current shape set.
func (s *Session) ReleaseStaleLocks(ctx context.Context) (int, error) {
	n, err := s.deps.Locks.ReleaseStale(ctx, s.Shapes())
	return n, s.record("release stale locks", err)
}

func (s *Session) groupService() error {
	if s.deps.Groups == nil {
		return errors.New("groups are not configured")
	}
	return nil
}

// setGroup points each shape at groupID, or clears the reference when groupID is empty.
func (s *Session) setGroup(ctx context.Context, ids []string, groupID string) error {
	patch := model.ShapePatch{ClearGroup: true}
	if groupID != "" {
		patch = model.ShapePatch{GroupID: model.String(groupID)}
	}
	var errs []error
	for _, id := range ids {
		err := s.deps.Shapes.Update(ctx, id, patch, s.actor)
		if err != nil && !errors.Is(err, canvaserr.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateGroup groups shapeIDs, defaulting to the current selection.
func (s *Session) CreateGroup(ctx context.Context, req groupmodel.CreateGroupRequest) (groupmodel.ShapeGroup, error) {
	if err := s.groupService(); err != nil {
		return groupmodel.ShapeGroup{}, err
	}
	if len(req.ShapeIDs) == 0 {
		req.ShapeIDs = s.Selection()
	}
	if len(req.ShapeIDs) == 0 {
		return groupmodel.ShapeGroup{}, canvaserr.Invalid("shapeIds", req.ShapeIDs, "a group needs at least one shape")
	}
	g, err := s.deps.Groups.CreateGroup(ctx, s.documentID, s.user.ID, req)
	if err != nil {
		return groupmodel.ShapeGroup{}, s.record("create group", err)
	}
	return g, s.record("create group", s.setGroup(ctx, g.ShapeIDs, g.ID))
}

func (s *Session) AddShapesToGroup(ctx context.Context, groupID string, shapeIDs []string) error {
	if err := s.groupService(); err != nil {
		return err
	}
	if err := s.deps.Groups.AddShapesToGroup(ctx, groupID, shapeIDs); err != nil {
		return s.record("add to group", err)
	}
	return s.record("add to group", s.setGroup(ctx, shapeIDs, groupID))
}

// RemoveShapesFromGroup reports whether the group was deleted for having no members left.
func (s *Session) RemoveShapesFromGroup(ctx context.Context, groupID string, shapeIDs []string) (bool, error) {
	if err := s.groupService(); err != nil {
		return false, err
	}
	deleted, err := s.deps.Groups.RemoveShapesFromGroup(ctx, groupID, shapeIDs)
	if err != nil {
		return false, s.record("remove from group", err)
	}
	return deleted, s.record("remove from group", s.setGroup(ctx, shapeIDs, ""))
}

// DeleteGroup removes the group and clears the reference on its members.
func (s *Session) DeleteGroup(ctx context.Context, groupID string) error {
	if err := s.groupService(); err != nil {
		return err
	}
	var members []string
	for _, g := range s.Groups() {
		if g.ID == groupID {
			members = g.ShapeIDs
		}
	}
	if err := s.deps.Groups.DeleteGroup(ctx, groupID); err != nil {
		return s.record("delete group", err)
	}
	return s.record("delete group", s.setGroup(ctx, members, ""))
}

func (s *Session) RenameGroup(ctx context.Context, groupID, name string) error {
	if err := s.groupService(); err != nil {
		return err
	}
	return s.deps.Groups.RenameGroup(ctx, groupID, name)
}

func (s *Session) SetGroupCollapsed(ctx context.Context, groupID string, collapsed bool) error {
	if err := s.groupService(); err != nil {
		return err
	}
	return s.deps.Groups.SetCollapsed(ctx, groupID, collapsed)
}

// ApplyCanvasCommand runs action against the document as the session user, placing new
// shapes relative to the current view.
func (s *Session) ApplyCanvasCommand(ctx context.Context, action command.CanvasAction) command.Result {
	if s.isClosed() {
		return command.Result{Success: false, Error: ErrClosed.Error()}
	}
	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	return s.deps.Commands.Execute(ctx, command.Scope{DocumentID: s.documentID, Actor: s.actor, View: view}, action)
}
