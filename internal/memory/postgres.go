package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ensemble-labs/ensemble/internal/embedding"
)

// PostgresIndex persists memories in PostgreSQL with pgvector similarity.
type PostgresIndex struct {
	pool *pgxpool.Pool
	dims int
}

func NewPostgresIndex(ctx context.Context, databaseURL string, dims int) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ix := &PostgresIndex{pool: pool, dims: dims}
	if err := ix.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *PostgresIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			emotional_weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			priority SMALLINT NOT NULL DEFAULT 2,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			access_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT[] NOT NULL DEFAULT '{}'
		);`, ix.dims),
		`CREATE INDEX IF NOT EXISTS idx_memories_pair_created ON memories (character_id, user_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := ix.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// vectorLiteral renders a pgvector input literal ("[0.1,0.2,...]").
func vectorLiteral(v embedding.Vector) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(s string) (embedding.Vector, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make(embedding.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component: %w", err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func (ix *PostgresIndex) Upsert(ctx context.Context, m *Memory) error {
	_, err := ix.pool.Exec(ctx,
		`INSERT INTO memories (id, character_id, user_id, type, content, embedding, emotional_weight, priority, created_at, last_accessed_at, access_count, tags)
		 VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			emotional_weight = EXCLUDED.emotional_weight,
			priority = EXCLUDED.priority,
			last_accessed_at = EXCLUDED.last_accessed_at,
			access_count = EXCLUDED.access_count,
			tags = EXCLUDED.tags`,
		m.ID, m.CharacterID, m.UserID, string(m.Type), m.Content,
		vectorLiteral(m.Embedding), m.EmotionalWeight, int(m.Priority),
		m.CreatedAt, m.LastAccessedAt, m.AccessCount, m.Tags,
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (ix *PostgresIndex) Search(ctx context.Context, scope Scope, query embedding.Vector, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := ix.pool.Query(ctx,
		`SELECT id, 1 - (embedding <=> $3::vector) AS similarity
		 FROM memories
		 WHERE character_id = $1 AND user_id = $2
		 ORDER BY embedding <=> $3::vector
		 LIMIT $4`,
		scope.CharacterID, scope.UserID, vectorLiteral(query), k,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

const memoryColumns = `id, character_id, user_id, type, content, embedding::text, emotional_weight, priority, created_at, last_accessed_at, access_count, tags`

func scanMemory(row pgx.Row) (*Memory, error) {
	var (
		m        Memory
		typ      string
		vecText  string
		priority int
	)
	if err := row.Scan(&m.ID, &m.CharacterID, &m.UserID, &typ, &m.Content, &vecText,
		&m.EmotionalWeight, &priority, &m.CreatedAt, &m.LastAccessedAt, &m.AccessCount, &m.Tags); err != nil {
		return nil, err
	}
	m.Type = Type(typ)
	m.Priority = Priority(priority)
	vec, err := parseVectorLiteral(vecText)
	if err != nil {
		return nil, err
	}
	m.Embedding = vec
	return &m, nil
}

func (ix *PostgresIndex) Get(ctx context.Context, scope Scope, id string) (*Memory, error) {
	row := ix.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE character_id = $1 AND user_id = $2 AND id = $3`,
		scope.CharacterID, scope.UserID, id,
	)
	m, err := scanMemory(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

func (ix *PostgresIndex) CreatedSince(ctx context.Context, scope Scope, since time.Time) ([]*Memory, error) {
	return ix.query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE character_id = $1 AND user_id = $2 AND created_at >= $3
		 ORDER BY created_at, id`,
		scope.CharacterID, scope.UserID, since)
}

func (ix *PostgresIndex) List(ctx context.Context, scope Scope) ([]*Memory, error) {
	return ix.query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE character_id = $1 AND user_id = $2
		 ORDER BY created_at, id`,
		scope.CharacterID, scope.UserID)
}

func (ix *PostgresIndex) query(ctx context.Context, sql string, args ...any) ([]*Memory, error) {
	rows, err := ix.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

func (ix *PostgresIndex) Touch(ctx context.Context, scope Scope, id string, at time.Time) error {
	tag, err := ix.pool.Exec(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = $4
		 WHERE character_id = $1 AND user_id = $2 AND id = $3`,
		scope.CharacterID, scope.UserID, id, at,
	)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ix *PostgresIndex) Delete(ctx context.Context, scope Scope, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := ix.pool.Exec(ctx,
		`DELETE FROM memories WHERE character_id = $1 AND user_id = $2 AND id = ANY($3)`,
		scope.CharacterID, scope.UserID, ids,
	)
	if err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

func (ix *PostgresIndex) Close() error {
	ix.pool.Close()
	return nil
}
