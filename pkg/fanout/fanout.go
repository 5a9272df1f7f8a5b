// Package fanout keeps keyed subscriber lists for store adapters.
//
// Cancel is idempotent and synchronous: once it returns, the callback is never invoked again.
// A callback must not cancel its own subscription while it is being delivered.
package fanout

import (
	"sort"
	"sync"
)

type Registry[T any] struct {
	mu   sync.Mutex
	subs map[string]map[uint64]*Subscription[T]
	next uint64
}

type Subscription[T any] struct {
	registry *Registry[T]
	key      string
	id       uint64

	mu     sync.Mutex
	active bool
	fn     func(T)
}

func New[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[string]map[uint64]*Subscription[T])}
}

// Add registers fn under key. The returned subscription is active until cancelled.
func (r *Registry[T]) Add(key string, fn func(T)) *Subscription[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	sub := &Subscription[T]{registry: r, key: key, id: r.next, active: true, fn: fn}
	if r.subs[key] == nil {
		r.subs[key] = make(map[uint64]*Subscription[T])
	}
	r.subs[key][sub.id] = sub
	return sub
}

// Deliver sends v to every active subscriber of key.
func (r *Registry[T]) Deliver(key string, v T) {
	for _, sub := range r.snapshot(key) {
		sub.Send(v)
	}
}

// Keys lists the keys that currently have at least one subscriber.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of subscribers registered under key.
func (r *Registry[T]) Len(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[key])
}

func (r *Registry[T]) snapshot(key string) []*Subscription[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Subscription[T], 0, len(r.subs[key]))
	for _, sub := range r.subs[key] {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry[T]) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs[key], id)
	if len(r.subs[key]) == 0 {
		delete(r.subs, key)
	}
}

// Send delivers v to this subscriber only, if it is still active.
func (s *Subscription[T]) Send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.fn(v)
	}
}

// Cancel stops delivery. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.mu.Unlock()

	if wasActive {
		s.registry.remove(s.key, s.id)
	}
}
