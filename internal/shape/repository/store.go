package repository

import (
	"context"

	"collabcanvas/internal/shape/model"

	"github.com/benbjohnson/clock"
)

// Store is the durable, authoritative shape collection.
//
// Subscribe delivers the full current set of a document (paint-ordered) right after
// subscribing and again after every change; every delivery replaces the previous one.
// Writes are not retried; transport failures come back as *canvaserr.StoreError.
type Store interface {
	Subscribe(documentID string, onChange func([]model.Shape)) (unsubscribe func())
	Get(ctx context.Context, id string) (model.Shape, error)
	List(ctx context.Context, documentID string) ([]model.Shape, error)
	Create(ctx context.Context, shape model.Shape) error
	// Update applies patch. Without an explicit patch.History the store diffs the old and new
	// versions and prepends the derived edit entry to the shape's history. A patch that changes
	// nothing is not written and not delivered.
	Update(ctx context.Context, id string, patch model.ShapePatch, actor model.Actor) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, documentID string) error
}

type Options struct {
	Clock      clock.Clock
	HistoryCap int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}
