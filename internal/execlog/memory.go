package execlog

import (
	"context"
	"sync"
)

// MemoryStore is the in-memory Store: process-lifetime, unbounded, keyed by
// execution id.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryStore creates an empty in-memory log store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]Entry),
	}
}

func (s *MemoryStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.ExecutionID] = append(s.entries[e.ExecutionID], e)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, executionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.entries[executionID]
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
