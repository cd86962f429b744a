// Package memory keeps the property collection in process memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/storage"
)

// Store is a mutex-guarded PropertyStore.
type Store struct {
	mu    sync.RWMutex
	props []crawler.Property
}

// NewStore returns a Store seeded with a copy of initial.
func NewStore(initial ...crawler.Property) *Store {
	return &Store{props: crawler.CloneAll(initial)}
}

// Load returns a copy of the collection.
func (s *Store) Load(_ context.Context) ([]crawler.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := crawler.CloneAll(s.props)
	if out == nil {
		out = []crawler.Property{}
	}
	return out, nil
}

// Update applies fn under the write lock.
func (s *Store) Update(ctx context.Context, fn crawler.UpdateFunc) ([]crawler.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := storage.Apply(s.props, fn)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	s.props = next
	return crawler.CloneAll(next), nil
}
