// Package session is one user's live view of one document. It owns the subscriptions to the
// shape store, the group store and the ephemeral channel, keeps the latest full snapshot of
// each, and exposes the operations a presentation layer calls in response to gestures.
//
// No session lock is held while an adapter is called: adapters may deliver snapshots back
// into the session synchronously.
package session

import (
	"context"
	"sync"
	"time"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/command"
	groupmodel "collabcanvas/internal/group/model"
	groupservice "collabcanvas/internal/group/service"
	"collabcanvas/internal/lock"
	"collabcanvas/internal/presence/channel"
	presencemodel "collabcanvas/internal/presence/model"
	"collabcanvas/internal/selection"
	"collabcanvas/internal/shape/model"
	shaperepository "collabcanvas/internal/shape/repository"
	"collabcanvas/internal/smoothing"
	"collabcanvas/pkg/geometry"
	"collabcanvas/pkg/logger"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const DefaultCursorDebounce = 50 * time.Millisecond

type Event string

const (
	ShapesChanged    Event = "shapes"
	PresenceChanged  Event = "presence"
	SelectionChanged Event = "selection"
	GroupsChanged    Event = "groups"
	ResizesChanged   Event = "resizes"
	CursorFrame      Event = "cursor_frame"
	ShapeFrame       Event = "shape_frame"
	ErrorRaised      Event = "error"
)

// Deps are the shared collaborators of every session in the process.
type Deps struct {
	Shapes    shaperepository.Store
	Groups    *groupservice.GroupService
	Channel   *channel.Channel
	Locks     *lock.Manager
	Commands  *command.Interpreter
	Clock     clock.Clock
	Scheduler smoothing.Scheduler
}

type Options struct {
	CursorDebounce time.Duration
	MaxSelection   int
	HistoryCap     int
	Smoothing      smoothing.Options
}

type User struct {
	ID    string
	Name  string
	Color string
}

type Session struct {
	deps       Deps
	opts       Options
	documentID string
	user       User
	actor      model.Actor

	selection *selection.Engine
	cursors   *smoothing.Loop
	moving    *smoothing.Loop
	log       *zap.SugaredLogger

	mu            sync.Mutex
	shapes        []model.Shape
	presence      map[string]presencemodel.Presence
	groups        []groupmodel.ShapeGroup
	drags         map[string]presencemodel.Position
	resizes       map[string]presencemodel.Position
	view          geometry.Rect
	lastErr       error
	onUpdate      func(Event)
	pendingCursor *geometry.Point
	cursorTimer   *clock.Timer
	cursorFlush   chan struct{}
	leaving       bool
	unsubscribe   []func()
	closed        bool
}

// New builds a session and subscribes it to every collaborator. The first snapshots may
// arrive before New returns.
func New(deps Deps, documentID string, user User, opts Options) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Locks == nil {
		deps.Locks = lock.NewManager(deps.Shapes, deps.Clock, 0)
	}
	if deps.Commands == nil {
		deps.Commands = command.NewInterpreter(deps.Shapes, deps.Locks, deps.Clock)
	}
	if deps.Scheduler == nil {
		deps.Scheduler = smoothing.NewClockScheduler(deps.Clock, smoothing.DefaultFrameInterval)
	}
	if opts.CursorDebounce <= 0 {
		opts.CursorDebounce = DefaultCursorDebounce
	}
	if user.Name == "" {
		user.Name = user.ID
	}

	s := &Session{
		deps:       deps,
		opts:       opts,
		documentID: documentID,
		user:       user,
		actor:      model.Actor{UserID: user.ID, UserName: user.Name},
		cursors:    smoothing.NewLoop(deps.Scheduler, opts.Smoothing),
		moving:     smoothing.NewLoop(deps.Scheduler, opts.Smoothing),
		log:        logger.Named("session").With("document", documentID, "user", user.ID),
		presence:   make(map[string]presencemodel.Presence),
		drags:      make(map[string]presencemodel.Position),
		resizes:    make(map[string]presencemodel.Position),
		view:       command.DefaultView,
	}
	s.selection = selection.New(deps.Locks, s.actor, opts.MaxSelection)
	s.selection.OnChange(func([]string) { s.emit(SelectionChanged) })
	s.cursors.OnFrame(func(map[string]geometry.Point) { s.emit(CursorFrame) })
	s.moving.OnFrame(func(map[string]geometry.Point) { s.emit(ShapeFrame) })

	subs := []func(){
		deps.Shapes.Subscribe(documentID, s.onShapes),
		deps.Channel.SubscribePresence(documentID, s.onPresence),
		deps.Channel.SubscribeDrag(documentID, user.ID, s.onDrags),
		deps.Channel.SubscribeResize(documentID, user.ID, s.onResizes),
	}
	if deps.Groups != nil {
		subs = append(subs, deps.Groups.Subscribe(documentID, s.onGroups, s.onGroupsError))
	}

	s.mu.Lock()
	s.unsubscribe = subs
	s.mu.Unlock()
	return s
}

func (s *Session) DocumentID() string { return s.documentID }

func (s *Session) User() User { return s.user }

// OnUpdate registers fn to be told which snapshot changed. fn runs on the delivering
// goroutine and reads the new state through the getters.
func (s *Session) OnUpdate(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

func (s *Session) emit(e Event) {
	s.mu.Lock()
	fn, closed := s.onUpdate, s.closed
	s.mu.Unlock()
	if fn != nil && !closed {
		fn(e)
	}
}

func (s *Session) onShapes(shapes []model.Shape) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.shapes = shapes
	targets := s.shapeTargetsLocked()
	s.mu.Unlock()

	s.selection.SetShapes(shapes)
	s.moving.SyncTargets(targets)
	s.emit(ShapesChanged)
}

func (s *Session) onPresence(presence map[string]presencemodel.Presence) {
	targets := make(map[string]geometry.Point)
	for id, p := range presence {
		if id != s.user.ID && p.IsActive && p.Cursor != nil {
			targets[id] = *p.Cursor
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.presence = presence
	s.mu.Unlock()

	s.cursors.SyncTargets(targets)
	s.emit(PresenceChanged)
}

func (s *Session) onDrags(drags map[string]presencemodel.Position) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.drags = drags
	targets := s.shapeTargetsLocked()
	s.mu.Unlock()

	s.moving.SyncTargets(targets)
}

func (s *Session) onResizes(resizes map[string]presencemodel.Position) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.resizes = resizes
	s.mu.Unlock()

	s.emit(ResizesChanged)
}

func (s *Session) onGroups(groups []groupmodel.ShapeGroup) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.groups = groups
	s.mu.Unlock()

	s.emit(GroupsChanged)
}

func (s *Session) onGroupsError(err error) {
	s.log.Warnf("Group subscription failed: %v", err)
	s.setError(err)
}

// shapeTargetsLocked is where each shape should be drawn: the latest remote drag if one is in
// flight, else the stored position.
func (s *Session) shapeTargetsLocked() map[string]geometry.Point {
	targets := make(map[string]geometry.Point, len(s.shapes))
	for _, shape := range s.shapes {
		if d, ok := s.drags[shape.ID]; ok {
			targets[shape.ID] = d.Point()
			continue
		}
		targets[shape.ID] = shape.Position()
	}
	return targets
}

func (s *Session) setError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.emit(ErrorRaised)
}

// record stores a failed shape mutation in the last-error slot and returns err. Conflicts
// are returned without being stored.
func (s *Session) record(op string, err error) error {
	if canvaserr.IsConflict(err) {
		return err
	}
	if err != nil {
		s.log.Warnf("%s failed: %v", op, err)
		s.setError(err)
		return err
	}
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// LastError is the error of the most recent failed shape mutation, cleared by the next
// successful one.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Shapes returns the last delivered shape set in paint order.
func (s *Session) Shapes() []model.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Shape, len(s.shapes))
	for i, shape := range s.shapes {
		out[i] = shape.Clone()
	}
	return out
}

func (s *Session) shape(id string) (model.Shape, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, shape := range s.shapes {
		if shape.ID == id {
			return shape.Clone(), true
		}
	}
	return model.Shape{}, false
}

func (s *Session) Presence() map[string]presencemodel.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]presencemodel.Presence, len(s.presence))
	for k, v := range s.presence {
		out[k] = v
	}
	return out
}

func (s *Session) Groups() []groupmodel.ShapeGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]groupmodel.ShapeGroup(nil), s.groups...)
}

// RemoteResizes returns the latest live resize of each shape by another user.
func (s *Session) RemoteResizes() map[string]presencemodel.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]presencemodel.Position, len(s.resizes))
	for k, v := range s.resizes {
		out[k] = v
	}
	return out
}

func (s *Session) Selection() []string { return s.selection.Selected() }

func (s *Session) SelectionState() selection.State { return s.selection.State() }

func (s *Session) SelectionBox() (geometry.Rect, bool) { return s.selection.Box() }

func (s *Session) SmoothedCursors() map[string]geometry.Point { return s.cursors.Positions() }

func (s *Session) SmoothedShapes() map[string]geometry.Point { return s.moving.Positions() }

// SetView records the visible canvas rectangle used to place command output.
func (s *Session) SetView(view geometry.Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = view
}

// Close unsubscribes from everything and stops frames and the cursor debounce. It is safe to
// call more than once and must not be called from an OnUpdate callback.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.unsubscribe
	s.unsubscribe = nil
	if s.cursorTimer != nil {
		s.cursorTimer.Stop()
		s.cursorTimer = nil
	}
	s.pendingCursor = nil
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	s.cursors.Close()
	s.moving.Close()
	s.log.Debug("Session closed")
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
