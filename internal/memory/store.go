package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ensemble-labs/ensemble/internal/embedding"
	"github.com/ensemble-labs/ensemble/internal/fault"
	"github.com/ensemble-labs/ensemble/internal/relationship"
)

// Ranking weights. Semantic similarity dominates; importance is unbounded
// above so frequently revisited, emotionally weighted memories can take
// over a result set.
const (
	semanticWeight   = 0.5
	recencyWeight    = 0.3
	importanceWeight = 0.2
)

const (
	embedderName    = "embedder"
	vectorIndexName = "vector-index"
)

// Config bounds the store's retention and retrieval behavior.
type Config struct {
	RetentionDays int           // delete memories older than this (default 90)
	PerTypeCap    int           // keep top N per type per pair (default 100)
	HalfLifeDays  float64       // recency decay constant (default 30)
	RecencyFloor  time.Duration // recent memories bypass similarity (default 24h)
	SearchK       int           // nearest-neighbor candidate fanout (default 50)
}

func (c Config) withDefaults() Config {
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	if c.PerTypeCap <= 0 {
		c.PerTypeCap = 100
	}
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = 30
	}
	if c.RecencyFloor <= 0 {
		c.RecencyFloor = 24 * time.Hour
	}
	if c.SearchK <= 0 {
		c.SearchK = 50
	}
	return c
}

// Store owns memory entities: it embeds, persists, ranks, retrieves, and
// enforces retention. Every successfully stored memory also advances the
// pair's relationship.
type Store struct {
	index    Index
	embedder embedding.Embedder
	rel      *relationship.Engine
	cfg      Config
	now      func() time.Time
}

type StoreOption func(*Store)

// WithClock fixes the store clock for deterministic ranking in tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(index Index, embedder embedding.Embedder, rel *relationship.Engine, cfg Config, opts ...StoreOption) *Store {
	s := &Store{
		index:    index,
		embedder: embedder,
		rel:      rel,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store validates, embeds, persists, and applies the relationship update.
// The relationship update only happens after the vector write succeeds, so
// a persistence failure never leaves a half-applied update behind.
func (s *Store) Store(ctx context.Context, m *Memory) (string, error) {
	if err := m.Validate(); err != nil {
		return "", fault.New(fault.KindValidation, "", err)
	}

	now := s.now()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.EmotionalWeight == 0 {
		m.EmotionalWeight = 1.0
	}
	if m.Priority == 0 {
		m.Priority = PriorityMedium
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.Before(m.CreatedAt) {
		m.LastAccessedAt = m.CreatedAt
	}

	if m.Embedding == nil {
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			return "", fault.New(fault.KindEmbedding, embedderName, err)
		}
		m.Embedding = vec
	} else if dims := s.embedder.Dimensions(); dims > 0 && len(m.Embedding) != dims {
		return "", fault.Newf(fault.KindValidation, "", "embedding length %d, deployment uses %d", len(m.Embedding), dims)
	}

	if err := s.index.Upsert(ctx, m); err != nil {
		return "", fault.New(fault.KindPersistence, vectorIndexName, err)
	}

	if _, err := s.rel.Update(ctx, m.CharacterID, m.UserID, relationshipEvent(m)); err != nil {
		return "", err
	}
	return m.ID, nil
}

func relationshipEvent(m *Memory) relationship.Event {
	return relationship.Event{
		Semantic:        m.Type == TypeSemantic,
		EmotionalWeight: m.EmotionalWeight,
		Positive:        m.HasTag("positive"),
	}
}

// Retrieve runs the hybrid search: nearest neighbors unioned with the
// 24-hour recency floor, all scored with the ranking function, top `limit`
// returned. Access metrics advance for every returned memory. Empty result
// sets are not an error.
func (s *Store) Retrieve(ctx context.Context, scope Scope, queryText string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	queryVec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fault.New(fault.KindEmbedding, embedderName, err)
	}

	k := s.cfg.SearchK
	if limit > k {
		k = limit
	}
	matches, err := s.index.Search(ctx, scope, queryVec, k)
	if err != nil {
		return nil, fault.New(fault.KindRetrieval, vectorIndexName, err)
	}

	now := s.now()
	candidates := make(map[string]*Memory, len(matches))
	similarity := make(map[string]float64, len(matches))
	for _, match := range matches {
		m, err := s.index.Get(ctx, scope, match.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fault.New(fault.KindRetrieval, vectorIndexName, err)
		}
		candidates[m.ID] = m
		similarity[m.ID] = match.Similarity
	}

	recent, err := s.index.CreatedSince(ctx, scope, now.Add(-s.cfg.RecencyFloor))
	if err != nil {
		return nil, fault.New(fault.KindRetrieval, vectorIndexName, err)
	}
	for _, m := range recent {
		if _, seen := candidates[m.ID]; seen {
			continue
		}
		candidates[m.ID] = m
		similarity[m.ID] = embedding.Cosine(queryVec, m.Embedding)
	}

	ranked := make([]*Memory, 0, len(candidates))
	for _, m := range candidates {
		m.Confidence = s.score(m, similarity[m.ID], now)
		ranked = append(ranked, m)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	for _, m := range ranked {
		if err := s.index.Touch(ctx, scope, m.ID, now); err != nil {
			return nil, fault.New(fault.KindRetrieval, vectorIndexName, err)
		}
		m.AccessCount++
		m.LastAccessedAt = now
	}
	return ranked, nil
}

// score is the ranking function:
// 0.5·cosine + 0.3·exp(-ageDays/halfLife) + 0.2·priority·weight·(1+0.1·accesses).
func (s *Store) score(m *Memory, sim float64, now time.Time) float64 {
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-ageDays / s.cfg.HalfLifeDays)
	importance := float64(m.Priority) * m.EmotionalWeight * (1 + float64(m.AccessCount)*0.1)
	return semanticWeight*sim + recencyWeight*recency + importanceWeight*importance
}

// ApplyRetention deletes memories past the retention window, then trims
// each type to the per-type cap ranked by the neutral-query score (the
// semantic term contributes nothing). Running it twice yields the same
// surviving set. Returns how many memories were removed.
func (s *Store) ApplyRetention(ctx context.Context, scope Scope) (int, error) {
	all, err := s.index.List(ctx, scope)
	if err != nil {
		return 0, fault.New(fault.KindRetrieval, vectorIndexName, err)
	}

	now := s.now()
	cutoff := now.AddDate(0, 0, -s.cfg.RetentionDays)

	var doomed []string
	byType := make(map[Type][]*Memory)
	for _, m := range all {
		if m.CreatedAt.Before(cutoff) {
			doomed = append(doomed, m.ID)
			continue
		}
		byType[m.Type] = append(byType[m.Type], m)
	}

	for _, group := range byType {
		if len(group) <= s.cfg.PerTypeCap {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			si := s.score(group[i], 0, now)
			sj := s.score(group[j], 0, now)
			if si != sj {
				return si > sj
			}
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.After(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		for _, m := range group[s.cfg.PerTypeCap:] {
			doomed = append(doomed, m.ID)
		}
	}

	if len(doomed) > 0 {
		if err := s.index.Delete(ctx, scope, doomed...); err != nil {
			return 0, fault.New(fault.KindPersistence, vectorIndexName, err)
		}
	}
	return len(doomed), nil
}
