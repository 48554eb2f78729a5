// Package memory keeps checkpoints in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsdataclinic/mta/internal/checkpoint"
)

// Store stores checkpoints in a map and returns pseudo URIs.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Exists reports whether id has been written.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	if err := checkpoint.ValidateID(id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok, nil
}

// Write stores a copy of data under id.
func (s *Store) Write(_ context.Context, id string, data []byte) (string, error) {
	if err := checkpoint.ValidateID(id); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", checkpoint.ObjectName("", id)), nil
}

// Get returns a copy of the stored checkpoint.
func (s *Store) Get(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Len returns the number of stored checkpoints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
