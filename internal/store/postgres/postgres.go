// Package postgres implements the store contract on a Postgres database
// via pgxpool. It is the network backend for deployments that share state
// outside the container filesystem.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leafcheck/leafcheckd/internal/store"
)

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                BIGSERIAL PRIMARY KEY,
		name              TEXT        NOT NULL UNIQUE,
		credentials       JSONB       NOT NULL DEFAULT '{}',
		enabled           BOOLEAN     NOT NULL DEFAULT TRUE,
		needs_attention   BOOLEAN     NOT NULL DEFAULT FALSE,
		checkin_time      TEXT        NOT NULL DEFAULT '06:30',
		retry_count       INT         NOT NULL DEFAULT 2,
		last_checkin_date TEXT        NOT NULL DEFAULT '',
		last_run_at       TIMESTAMPTZ,
		last_outcome      TEXT        NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS checkin_history (
		id         BIGSERIAL PRIMARY KEY,
		account_id BIGINT      NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		outcome    TEXT        NOT NULL,
		detail     TEXT        NOT NULL DEFAULT '',
		response   TEXT        NOT NULL DEFAULT '',
		date       TEXT        NOT NULL,
		retries    INT         NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_history_account_date ON checkin_history(account_id, date)`,

	`CREATE TABLE IF NOT EXISTS notification_settings (
		id       INT PRIMARY KEY CHECK (id = 1),
		enabled  BOOLEAN NOT NULL DEFAULT FALSE,
		telegram JSONB   NOT NULL DEFAULT '{}',
		wecom    JSONB   NOT NULL DEFAULT '{}',
		wxpusher JSONB   NOT NULL DEFAULT '{}',
		dingtalk JSONB   NOT NULL DEFAULT '{}'
	)`,

	`INSERT INTO notification_settings (id, enabled) VALUES (1, FALSE)
	 ON CONFLICT (id) DO NOTHING`,
}

// Open connects to the database identified by dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: migrate: %w", err)
		}
	}

	return &Store{pool: pool}, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
