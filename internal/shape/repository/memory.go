package repository

import (
	"context"
	"fmt"
	"sync"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/shape/model"
	"collabcanvas/pkg/fanout"
)

// MemoryStore keeps shapes in process memory. It backs STORE_DRIVER=memory and the tests.
// Subscribers are called synchronously from the writing goroutine and must not write back
// into the store from inside the callback.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	shapes  map[string]model.Shape
	failure error

	deliverMu sync.Mutex
	subs      *fanout.Registry[[]model.Shape]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:   opts.withDefaults(),
		shapes: make(map[string]model.Shape),
		subs:   fanout.New[[]model.Shape](),
	}
}

// SetFailure makes every following call fail with a StoreError wrapping err, as if the
// backend were unreachable. A nil err restores normal operation.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *MemoryStore) Subscribe(documentID string, onChange func([]model.Shape)) func() {
	sub := s.subs.Add(documentID, onChange)

	s.deliverMu.Lock()
	sub.Send(s.snapshot(documentID))
	s.deliverMu.Unlock()

	return sub.Cancel
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return model.Shape{}, canvaserr.Store("get", s.failure)
	}
	shape, ok := s.shapes[id]
	if !ok {
		return model.Shape{}, fmt.Errorf("shape %s: %w", id, canvaserr.ErrNotFound)
	}
	return shape.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, documentID string) ([]model.Shape, error) {
	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()
	if failure != nil {
		return nil, canvaserr.Store("list", failure)
	}
	return s.snapshot(documentID), nil
}

func (s *MemoryStore) Create(_ context.Context, shape model.Shape) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("create", s.failure)
	}
	if shape.ID == "" {
		shape.ID = model.NewID()
	}
	if _, exists := s.shapes[shape.ID]; exists {
		s.mu.Unlock()
		return canvaserr.Store("create", fmt.Errorf("shape %s already exists", shape.ID))
	}
	now := s.opts.Clock.Now().UnixMilli()
	if shape.CreatedAt == 0 {
		shape.CreatedAt = now
	}
	shape.UpdatedAt = now
	s.shapes[shape.ID] = shape.Clone()
	s.mu.Unlock()

	s.publish(shape.DocumentID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch model.ShapePatch, actor model.Actor) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("update", s.failure)
	}
	old, ok := s.shapes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("shape %s: %w", id, canvaserr.ErrNotFound)
	}
	updated, changed := applyPatch(old, patch, actor, s.opts.Clock.Now(), s.opts.HistoryCap)
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.shapes[id] = updated
	s.mu.Unlock()

	s.publish(updated.DocumentID)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("delete", s.failure)
	}
	shape, ok := s.shapes[id]
	delete(s.shapes, id)
	s.mu.Unlock()

	if ok {
		s.publish(shape.DocumentID)
	}
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, documentID string) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("delete all", s.failure)
	}
	for id, shape := range s.shapes {
		if shape.DocumentID == documentID {
			delete(s.shapes, id)
		}
	}
	s.mu.Unlock()

	s.publish(documentID)
	return nil
}

func (s *MemoryStore) snapshot(documentID string) []model.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Shape, 0)
	for _, shape := range s.shapes {
		if shape.DocumentID == documentID {
			out = append(out, shape.Clone())
		}
	}
	model.SortByPaintOrder(out)
	return out
}

// publish delivers a snapshot taken under deliverMu so deliveries never go backwards in time.
func (s *MemoryStore) publish(documentID string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.subs.Deliver(documentID, s.snapshot(documentID))
}
