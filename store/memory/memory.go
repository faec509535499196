package memory

import (
	"context"
	"sync"

	apperrors "github.com/hexlabs/cyberdash/pkg/errors"
)

// Store implements store.Store using an in-memory map. It does not survive
// process restarts and exists for tests and ephemeral shells.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// New creates a new in-memory store instance.
func New() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, apperrors.NotFound("store entry", key)
	}

	cpy := make([]byte, len(value))
	copy(cpy, value)
	return cpy, nil
}

// Set replaces the value for key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cpy := make([]byte, len(value))
	copy(cpy, value)
	s.values[key] = cpy
	return nil
}

// Delete removes the value for key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
