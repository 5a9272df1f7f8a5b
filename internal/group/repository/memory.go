package repository

import (
	"context"
	"fmt"
	"sync"

	"collabcanvas/internal/canvaserr"
	"collabcanvas/internal/group/model"
	"collabcanvas/pkg/fanout"

	"github.com/benbjohnson/clock"
)

// MemoryStore keeps groups in process memory. Subscribers are called synchronously.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	groups  map[string]model.ShapeGroup
	failure error

	deliverMu sync.Mutex
	subs      *fanout.Registry[snapshot]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:  clk,
		groups: make(map[string]model.ShapeGroup),
		subs:   fanout.New[snapshot](),
	}
}

// SetFailure makes every following call fail with a StoreError wrapping err.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *MemoryStore) Subscribe(documentID string, onChange func([]model.ShapeGroup), onError func(error)) func() {
	sub := s.subs.Add(documentID, deliverTo(onChange, onError))

	s.deliverMu.Lock()
	groups, err := s.List(context.Background(), documentID)
	sub.Send(snapshot{groups: groups, err: err})
	s.deliverMu.Unlock()

	return sub.Cancel
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.ShapeGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return model.ShapeGroup{}, canvaserr.Store("get group", s.failure)
	}
	g, ok := s.groups[id]
	if !ok {
		return model.ShapeGroup{}, fmt.Errorf("group %s: %w", id, canvaserr.ErrNotFound)
	}
	return model.GroupPatch{}.Apply(g), nil
}

func (s *MemoryStore) List(_ context.Context, documentID string) ([]model.ShapeGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, canvaserr.Store("list groups", s.failure)
	}
	out := make([]model.ShapeGroup, 0)
	for _, g := range s.groups {
		if g.DocumentID == documentID {
			out = append(out, model.GroupPatch{}.Apply(g))
		}
	}
	model.SortByCreation(out)
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, group model.ShapeGroup) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("create group", s.failure)
	}
	if _, exists := s.groups[group.ID]; exists {
		s.mu.Unlock()
		return canvaserr.Store("create group", fmt.Errorf("group %s already exists", group.ID))
	}
	now := s.clock.Now().UnixMilli()
	if group.CreatedAt == 0 {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	group.ShapeIDs = model.Normalize(group.ShapeIDs)
	s.groups[group.ID] = group
	s.mu.Unlock()

	s.publish(group.DocumentID)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch model.GroupPatch) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("update group", s.failure)
	}
	g, ok := s.groups[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("group %s: %w", id, canvaserr.ErrNotFound)
	}
	g = patch.Apply(g)
	g.UpdatedAt = s.clock.Now().UnixMilli()
	s.groups[id] = g
	s.mu.Unlock()

	s.publish(g.DocumentID)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return canvaserr.Store("delete group", s.failure)
	}
	g, ok := s.groups[id]
	delete(s.groups, id)
	s.mu.Unlock()

	if ok {
		s.publish(g.DocumentID)
	}
	return nil
}

func (s *MemoryStore) publish(documentID string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	groups, err := s.List(context.Background(), documentID)
	s.subs.Deliver(documentID, snapshot{groups: groups, err: err})
}
