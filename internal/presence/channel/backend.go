package channel

import (
	"context"
)

// Kind names one of the three independent sub-channels of a document.
type Kind string

const (
	PresenceKind Kind = "presence"
	DragKind     Kind = "drag"
	ResizeKind   Kind = "resize"
)

// Mutation tells Backend.Update what to do with the field.
type Mutation int

const (
	Keep Mutation = iota
	Replace
	Remove
)

// Backend is the low-latency key-value store behind a Channel: per document and kind, a flat
// map of field to JSON value, with change notices per document.
type Backend interface {
	// Now returns the store's clock in epoch milliseconds.
	Now(ctx context.Context) (int64, error)
	Put(ctx context.Context, documentID string, kind Kind, field string, value []byte) error
	Delete(ctx context.Context, documentID string, kind Kind, field string) error
	// Update reads field and applies fn atomically with respect to other writers. current is
	// nil when the field is absent.
	Update(ctx context.Context, documentID string, kind Kind, field string, fn func(current []byte) ([]byte, Mutation)) error
	Load(ctx context.Context, documentID string, kind Kind) (map[string][]byte, error)
	// Documents lists the documents that hold at least one field of kind.
	Documents(ctx context.Context, kind Kind) ([]string, error)
	// Watch calls onChange with the kind of every change to documentID until cancelled.
	// onChange must not block.
	Watch(documentID string, onChange func(Kind)) (cancel func())
}
