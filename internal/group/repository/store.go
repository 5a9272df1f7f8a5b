package repository

import (
	"context"

	"collabcanvas/internal/group/model"
)

// Store is the durable group collection.
//
// Subscribe delivers every group of a document, oldest first, immediately and after each
// change. onError receives read failures; it may be nil.
type Store interface {
	Subscribe(documentID string, onChange func([]model.ShapeGroup), onError func(error)) (unsubscribe func())
	Get(ctx context.Context, id string) (model.ShapeGroup, error)
	List(ctx context.Context, documentID string) ([]model.ShapeGroup, error)
	Create(ctx context.Context, group model.ShapeGroup) error
	Update(ctx context.Context, id string, patch model.GroupPatch) error
	Delete(ctx context.Context, id string) error
}

// snapshot is what travels through the subscriber registry.
type snapshot struct {
	groups []model.ShapeGroup
	err    error
}

func deliverTo(onChange func([]model.ShapeGroup), onError func(error)) func(snapshot) {
	return func(s snapshot) {
		if s.err != nil {
			if onError != nil {
				onError(s.err)
			}
			return
		}
		onChange(s.groups)
	}
}
