package relationship

import (
	"context"
	"sync"
)

// Store durably persists relationship records keyed by pair. Load reports
// ok=false when the pair has never been saved.
type Store interface {
	Load(ctx context.Context, key string) (Record, bool, error)
	Save(ctx context.Context, key string, r Record) error
	Close() error
}

// InMemoryStore is the in-process store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Load(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	return r, ok, nil
}

func (s *InMemoryStore) Save(_ context.Context, key string, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = r
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
