// Package postgres persists voice profiles in PostgreSQL with pgvector
// embedding columns. The verifier loads all profiles at startup and appends
// new samples on enrollment; identification itself never touches the
// database.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Sample is one persisted embedding belonging to a user's voice profile.
type Sample struct {
	UserID    string
	Embedding []float64
}

// Store is the PostgreSQL-backed voice profile store. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and ensures
// the voice_profiles table exists.
//
// embeddingDimensions must match the output dimension of the embedding
// backend. Changing it after the first migration requires a manual schema
// change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}

	if err := migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// migrate ensures the pgvector extension and the voice_profiles table exist.
func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS voice_profiles (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dims)
	if _, err := pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("create voice_profiles: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS voice_profiles_user_id_idx
		ON voice_profiles (user_id)`); err != nil {
		return fmt.Errorf("create user_id index: %w", err)
	}
	return nil
}

// LoadAll returns every persisted profile sample in enrollment order. Called
// once at startup to seed the in-memory verifier.
func (s *Store) LoadAll(ctx context.Context) ([]Sample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, embedding
		FROM   voice_profiles
		ORDER  BY id`)
	if err != nil {
		return nil, fmt.Errorf("profile store: load all: %w", err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Sample, error) {
		var (
			sample Sample
			vec    pgvector.Vector
		)
		if err := row.Scan(&sample.UserID, &vec); err != nil {
			return Sample{}, err
		}
		sample.Embedding = toFloat64(vec.Slice())
		return sample, nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile store: scan rows: %w", err)
	}
	return samples, nil
}

// Append persists one new embedding sample for the user.
func (s *Store) Append(ctx context.Context, userID string, embedding []float64) error {
	vec := pgvector.NewVector(toFloat32(embedding))
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO voice_profiles (user_id, embedding)
		VALUES ($1, $2)`, userID, vec); err != nil {
		return fmt.Errorf("profile store: append sample for %s: %w", userID, err)
	}
	return nil
}

// DeleteUser removes every sample enrolled for the user.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `
		DELETE FROM voice_profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("profile store: delete %s: %w", userID, err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
