package cache

import (
	"context"
	"time"
)

// Entry is a stored value with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Expired reports whether the entry's expiry has passed at now.
func (e Entry[V]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store is the key/value backend of a Cache. The cache serializes all calls,
// so implementations need no locking of their own.
type Store[V any] interface {
	// Init prepares the store. A cache is never created over a store that
	// failed to initialize.
	Init(ctx context.Context) error
	Get(key string) (Entry[V], bool, error)
	Set(key string, entry Entry[V]) error
	Delete(key string) error
	Clear() error
	// Range calls fn for every entry until fn returns false.
	Range(fn func(key string, entry Entry[V]) bool) error
}

// MemoryStore is the default in-process Store.
type MemoryStore[V any] struct {
	items map[string]Entry[V]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{}
}

func (s *MemoryStore[V]) Init(context.Context) error {
	if s.items == nil {
		s.items = make(map[string]Entry[V])
	}
	return nil
}

func (s *MemoryStore[V]) Get(key string) (Entry[V], bool, error) {
	e, ok := s.items[key]
	return e, ok, nil
}

func (s *MemoryStore[V]) Set(key string, entry Entry[V]) error {
	s.items[key] = entry
	return nil
}

func (s *MemoryStore[V]) Delete(key string) error {
	delete(s.items, key)
	return nil
}

func (s *MemoryStore[V]) Clear() error {
	clear(s.items)
	return nil
}

func (s *MemoryStore[V]) Range(fn func(key string, entry Entry[V]) bool) error {
	for k, e := range s.items {
		if !fn(k, e) {
			break
		}
	}
	return nil
}
