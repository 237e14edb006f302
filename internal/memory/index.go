package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ensemble-labs/ensemble/internal/embedding"
)

// ErrNotFound is returned when a memory id is unknown to an index.
var ErrNotFound = errors.New("memory not found")

// Match is one nearest-neighbor hit.
type Match struct {
	ID         string
	Similarity float64
}

// Index persists memories and answers scoped similarity queries. It is the
// vector-search capability the store builds on; implementations must be
// safe for concurrent use.
type Index interface {
	Upsert(ctx context.Context, m *Memory) error
	Search(ctx context.Context, scope Scope, query embedding.Vector, k int) ([]Match, error)
	Get(ctx context.Context, scope Scope, id string) (*Memory, error)
	CreatedSince(ctx context.Context, scope Scope, since time.Time) ([]*Memory, error)
	List(ctx context.Context, scope Scope) ([]*Memory, error)
	Touch(ctx context.Context, scope Scope, id string, at time.Time) error
	Delete(ctx context.Context, scope Scope, ids ...string) error
	Close() error
}

// InMemoryIndex is a brute-force in-process index for tests and local use.
type InMemoryIndex struct {
	mu     sync.RWMutex
	scopes map[Scope]map[string]*Memory
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{scopes: make(map[Scope]map[string]*Memory)}
}

func (ix *InMemoryIndex) Upsert(_ context.Context, m *Memory) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	scope := m.Scope()
	bucket, ok := ix.scopes[scope]
	if !ok {
		bucket = make(map[string]*Memory)
		ix.scopes[scope] = bucket
	}
	bucket[m.ID] = m.clone()
	return nil
}

func (ix *InMemoryIndex) Search(_ context.Context, scope Scope, query embedding.Vector, k int) ([]Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	bucket := ix.scopes[scope]
	matches := make([]Match, 0, len(bucket))
	for id, m := range bucket {
		matches = append(matches, Match{ID: id, Similarity: embedding.Cosine(query, m.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (ix *InMemoryIndex) Get(_ context.Context, scope Scope, id string) (*Memory, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.scopes[scope][id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.clone(), nil
}

func (ix *InMemoryIndex) CreatedSince(_ context.Context, scope Scope, since time.Time) ([]*Memory, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []*Memory
	for _, m := range ix.scopes[scope] {
		if !m.CreatedAt.Before(since) {
			out = append(out, m.clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (ix *InMemoryIndex) List(_ context.Context, scope Scope) ([]*Memory, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*Memory, 0, len(ix.scopes[scope]))
	for _, m := range ix.scopes[scope] {
		out = append(out, m.clone())
	}
	sortByCreated(out)
	return out, nil
}

func (ix *InMemoryIndex) Touch(_ context.Context, scope Scope, id string, at time.Time) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	m, ok := ix.scopes[scope][id]
	if !ok {
		return ErrNotFound
	}
	m.AccessCount++
	m.LastAccessedAt = at
	return nil
}

func (ix *InMemoryIndex) Delete(_ context.Context, scope Scope, ids ...string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	bucket := ix.scopes[scope]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (ix *InMemoryIndex) Close() error { return nil }

func sortByCreated(ms []*Memory) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
