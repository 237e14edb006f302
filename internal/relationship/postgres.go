package relationship

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists relationship records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS relationships (
		key TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		familiarity DOUBLE PRECISION NOT NULL,
		trust DOUBLE PRECISION NOT NULL,
		affection DOUBLE PRECISION NOT NULL,
		respect DOUBLE PRECISION NOT NULL,
		shared_experiences INTEGER NOT NULL,
		last_interaction_at TIMESTAMPTZ,
		phase TEXT NOT NULL
	);`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init relationships schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (Record, bool, error) {
	var (
		r     Record
		phase string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT character_id, user_id, familiarity, trust, affection, respect,
		        shared_experiences, last_interaction_at, phase
		 FROM relationships WHERE key = $1`, key,
	).Scan(&r.CharacterID, &r.UserID, &r.Familiarity, &r.Trust, &r.Affection,
		&r.Respect, &r.SharedExperiences, &r.LastInteractionAt, &phase)
	if err == pgx.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load relationship: %w", err)
	}
	r.Phase = Phase(phase)
	return r, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, key string, r Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO relationships (key, character_id, user_id, familiarity, trust, affection, respect, shared_experiences, last_interaction_at, phase)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (key) DO UPDATE SET
			familiarity = EXCLUDED.familiarity,
			trust = EXCLUDED.trust,
			affection = EXCLUDED.affection,
			respect = EXCLUDED.respect,
			shared_experiences = EXCLUDED.shared_experiences,
			last_interaction_at = EXCLUDED.last_interaction_at,
			phase = EXCLUDED.phase`,
		key, r.CharacterID, r.UserID, r.Familiarity, r.Trust, r.Affection,
		r.Respect, r.SharedExperiences, r.LastInteractionAt, string(r.Phase),
	)
	if err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
