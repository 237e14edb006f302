package relationship

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/ensemble-labs/ensemble/internal/fault"
)

const storeName = "relationship-store"

// Engine owns relationship evolution. Updates for the same pair serialize
// on a per-key lock; unrelated pairs never contend. Snapshots go through a
// ristretto read cache because every conversation turn reads them.
type Engine struct {
	store Store
	cache *ristretto.Cache
	locks sync.Map // key -> *sync.Mutex
	now   func() time.Time
}

type EngineOption func(*Engine)

// WithClock fixes the engine clock; tests use it to make updates fully
// deterministic.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("relationship cache: %w", err)
	}
	e := &Engine{
		store: store,
		cache: cache,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// UserKey namespaces character↔user relationships.
func UserKey(characterID, userID string) string {
	return "user:" + characterID + ":" + userID
}

// PairKey namespaces character↔character affinity, directional.
func PairKey(characterID, otherID string) string {
	return "pair:" + characterID + ":" + otherID
}

// Snapshot returns the current record for a pair, defaulting on first
// access. The default is not persisted until the first Update.
func (e *Engine) Snapshot(ctx context.Context, characterID, userID string) (Record, error) {
	return e.snapshot(ctx, UserKey(characterID, userID), func() Record {
		return NewRecord(characterID, userID)
	})
}

// PairwiseSnapshot returns the affinity of one character toward another,
// defaulting to familiarity=0.5, affection=0.5.
func (e *Engine) PairwiseSnapshot(ctx context.Context, characterID, otherID string) (Record, error) {
	return e.snapshot(ctx, PairKey(characterID, otherID), func() Record {
		return NewPairRecord(characterID, otherID)
	})
}

func (e *Engine) snapshot(ctx context.Context, key string, fallback func() Record) (Record, error) {
	if v, ok := e.cache.Get(key); ok {
		if r, ok := v.(Record); ok {
			return r, nil
		}
	}
	r, found, err := e.store.Load(ctx, key)
	if err != nil {
		return Record{}, fault.New(fault.KindPersistence, storeName, err)
	}
	if !found {
		r = fallback()
	}
	e.cache.Set(key, r, 1)
	return r, nil
}

// Update applies a stored memory's effect to the pair's record and
// persists it. All-or-nothing: on store failure nothing is applied and the
// cache is left untouched.
func (e *Engine) Update(ctx context.Context, characterID, userID string, ev Event) (Record, error) {
	return e.update(ctx, UserKey(characterID, userID), func() Record {
		return NewRecord(characterID, userID)
	}, ev)
}

// PairwiseUpdate evolves one character's affinity toward another, e.g.
// from relational memories formed during group sessions.
func (e *Engine) PairwiseUpdate(ctx context.Context, characterID, otherID string, ev Event) (Record, error) {
	return e.update(ctx, PairKey(characterID, otherID), func() Record {
		return NewPairRecord(characterID, otherID)
	}, ev)
}

func (e *Engine) update(ctx context.Context, key string, fallback func() Record, ev Event) (Record, error) {
	mu := e.lock(key)
	mu.Lock()
	defer mu.Unlock()

	r, found, err := e.store.Load(ctx, key)
	if err != nil {
		return Record{}, fault.New(fault.KindPersistence, storeName, err)
	}
	if !found {
		r = fallback()
	}

	updated := Apply(r, ev, e.now())
	if err := e.store.Save(ctx, key, updated); err != nil {
		return Record{}, fault.New(fault.KindPersistence, storeName, err)
	}
	e.cache.Del(key)
	e.cache.Set(key, updated, 1)
	return updated, nil
}

func (e *Engine) lock(key string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) Close() {
	e.cache.Close()
}

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
