package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ensemble-labs/ensemble/internal/embedding"
)

// ChromemIndex is the default local backend. chromem-go answers similarity
// queries; full records live in a side table because chromem documents only
// round-trip id, content, and string metadata.
type ChromemIndex struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[Scope]*chromem.Collection
	records     map[Scope]map[string]*Memory
}

func NewChromemIndex() *ChromemIndex {
	return &ChromemIndex{
		db:          chromem.NewDB(),
		collections: make(map[Scope]*chromem.Collection),
		records:     make(map[Scope]map[string]*Memory),
	}
}

func (ix *ChromemIndex) collection(scope Scope) (*chromem.Collection, error) {
	ix.mu.RLock()
	col, ok := ix.collections[scope]
	ix.mu.RUnlock()
	if ok {
		return col, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if col, ok := ix.collections[scope]; ok {
		return col, nil
	}
	col, err := ix.db.CreateCollection(collectionName(scope), nil, noEmbedFunc)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	ix.collections[scope] = col
	return col, nil
}

// noEmbedFunc satisfies chromem's embedding hook; embeddings always arrive
// precomputed on the document.
func noEmbedFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be provided by the caller")
}

func collectionName(scope Scope) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return "mem_" + sanitize(scope.CharacterID) + "__" + sanitize(scope.UserID)
}

func (ix *ChromemIndex) Upsert(ctx context.Context, m *Memory) error {
	col, err := ix.collection(m.Scope())
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, chromem.Document{
		ID:        m.ID,
		Content:   m.Content,
		Embedding: m.Embedding,
	}); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	scope := m.Scope()
	bucket, ok := ix.records[scope]
	if !ok {
		bucket = make(map[string]*Memory)
		ix.records[scope] = bucket
	}
	bucket[m.ID] = m.clone()
	return nil
}

func (ix *ChromemIndex) Search(ctx context.Context, scope Scope, query embedding.Vector, k int) ([]Match, error) {
	col, err := ix.collection(scope)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults larger than the collection.
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return matches, nil
}

func (ix *ChromemIndex) Get(_ context.Context, scope Scope, id string) (*Memory, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.records[scope][id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.clone(), nil
}

func (ix *ChromemIndex) CreatedSince(_ context.Context, scope Scope, since time.Time) ([]*Memory, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []*Memory
	for _, m := range ix.records[scope] {
		if !m.CreatedAt.Before(since) {
			out = append(out, m.clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (ix *ChromemIndex) List(_ context.Context, scope Scope) ([]*Memory, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]*Memory, 0, len(ix.records[scope]))
	for _, m := range ix.records[scope] {
		out = append(out, m.clone())
	}
	sortByCreated(out)
	return out, nil
}

func (ix *ChromemIndex) Touch(_ context.Context, scope Scope, id string, at time.Time) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	m, ok := ix.records[scope][id]
	if !ok {
		return ErrNotFound
	}
	m.AccessCount++
	m.LastAccessedAt = at
	return nil
}

func (ix *ChromemIndex) Delete(ctx context.Context, scope Scope, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := ix.collection(scope)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	bucket := ix.records[scope]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func (ix *ChromemIndex) Close() error { return nil }
