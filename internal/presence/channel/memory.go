package channel

import (
	"context"
	"sort"
	"sync"

	"collabcanvas/pkg/fanout"

	"github.com/benbjohnson/clock"
)

// MemoryBackend is an in-process Backend for EPHEMERAL_DRIVER=memory and tests.
type MemoryBackend struct {
	clock clock.Clock

	mu       sync.Mutex
	data     map[string]map[Kind]map[string][]byte
	failNext int
	failErr  error

	watchers *fanout.Registry[Kind]
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend(clk clock.Clock) *MemoryBackend {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryBackend{
		clock:    clk,
		data:     make(map[string]map[Kind]map[string][]byte),
		watchers: fanout.New[Kind](),
	}
}

// FailNext makes the next n writes fail with err.
func (b *MemoryBackend) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext, b.failErr = n, err
}

// failing must be called with mu held.
func (b *MemoryBackend) failing() error {
	if b.failNext > 0 {
		b.failNext--
		return b.failErr
	}
	return nil
}

func (b *MemoryBackend) Now(context.Context) (int64, error) {
	return b.clock.Now().UnixMilli(), nil
}

func (b *MemoryBackend) fields(documentID string, kind Kind) map[string][]byte {
	if b.data[documentID] == nil {
		b.data[documentID] = make(map[Kind]map[string][]byte)
	}
	if b.data[documentID][kind] == nil {
		b.data[documentID][kind] = make(map[string][]byte)
	}
	return b.data[documentID][kind]
}

func (b *MemoryBackend) Put(_ context.Context, documentID string, kind Kind, field string, value []byte) error {
	b.mu.Lock()
	if err := b.failing(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.fields(documentID, kind)[field] = append([]byte(nil), value...)
	b.mu.Unlock()

	b.watchers.Deliver(documentID, kind)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, documentID string, kind Kind, field string) error {
	b.mu.Lock()
	if err := b.failing(); err != nil {
		b.mu.Unlock()
		return err
	}
	delete(b.fields(documentID, kind), field)
	b.mu.Unlock()

	b.watchers.Deliver(documentID, kind)
	return nil
}

func (b *MemoryBackend) Update(_ context.Context, documentID string, kind Kind, field string, fn func([]byte) ([]byte, Mutation)) error {
	b.mu.Lock()
	if err := b.failing(); err != nil {
		b.mu.Unlock()
		return err
	}
	fields := b.fields(documentID, kind)
	next, mutation := fn(fields[field])
	switch mutation {
	case Replace:
		fields[field] = next
	case Remove:
		delete(fields, field)
	}
	b.mu.Unlock()

	if mutation != Keep {
		b.watchers.Deliver(documentID, kind)
	}
	return nil
}

func (b *MemoryBackend) Load(_ context.Context, documentID string, kind Kind) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte)
	for field, v := range b.data[documentID][kind] {
		out[field] = append([]byte(nil), v...)
	}
	return out, nil
}

func (b *MemoryBackend) Documents(_ context.Context, kind Kind) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var docs []string
	for doc, kinds := range b.data {
		if len(kinds[kind]) > 0 {
			docs = append(docs, doc)
		}
	}
	sort.Strings(docs)
	return docs, nil
}

func (b *MemoryBackend) Watch(documentID string, onChange func(Kind)) func() {
	return b.watchers.Add(documentID, onChange).Cancel
}
