package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a session exists in neither Postgres nor the
// in-memory cache.
var ErrNotFound = errors.New("session not found")

// pgUndefinedColumn is the Postgres error code raised when a write touches a
// column the deployed schema does not have yet.
const pgUndefinedColumn = "42703"

type Store struct {
	pool   *pgxpool.Pool
	cache  *Cache
	logger *slog.Logger
}

func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, cache: NewCache(1024), logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the base schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id              text PRIMARY KEY,
			goal            text NOT NULL DEFAULT '',
			audience        text NOT NULL DEFAULT '',
			planned_minutes int  NOT NULL DEFAULT 0,
			status          text NOT NULL DEFAULT 'created',
			agent_id        text NOT NULL DEFAULT '',
			call_id         text NOT NULL DEFAULT '',
			summary         jsonb,
			profile         jsonb,
			created_at      timestamptz NOT NULL DEFAULT now(),
			updated_at      timestamptz NOT NULL DEFAULT now(),
			started_at      timestamptz,
			ended_at        timestamptz
		);
		CREATE TABLE IF NOT EXISTS transcript_chunks (
			id         uuid PRIMARY KEY,
			session_id text NOT NULL,
			speaker    text NOT NULL,
			body       text NOT NULL,
			ts         timestamptz NOT NULL,
			raw        jsonb,
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS transcript_chunks_session_idx
			ON transcript_chunks (session_id, ts);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// extendSchema adds the columns introduced since the base schema shipped.
// Called when a write trips undefined_column; the write is then retried
// exactly once.
func (s *Store) extendSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		ALTER TABLE sessions ADD COLUMN IF NOT EXISTS call_id    text NOT NULL DEFAULT '';
		ALTER TABLE sessions ADD COLUMN IF NOT EXISTS summary    jsonb;
		ALTER TABLE sessions ADD COLUMN IF NOT EXISTS profile    jsonb;
		ALTER TABLE sessions ADD COLUMN IF NOT EXISTS started_at timestamptz;
		ALTER TABLE sessions ADD COLUMN IF NOT EXISTS ended_at   timestamptz;
		ALTER TABLE transcript_chunks ADD COLUMN IF NOT EXISTS raw jsonb;
	`)
	if err != nil {
		return fmt.Errorf("extend schema: %w", err)
	}
	return nil
}

// isUndefinedColumn reports whether err is the schema-missing-property case.
func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn
}
