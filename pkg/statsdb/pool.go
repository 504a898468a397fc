// Package statsdb persists backlog samples to Postgres via pgx.
package statsdb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "statsdb:pool"

// schemaSQL creates the sample table. It is idempotent.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS completion_samples (
	id          BIGSERIAL PRIMARY KEY,
	service     TEXT        NOT NULL,
	pending     BIGINT      NOT NULL,
	backlog     BOOLEAN     NOT NULL DEFAULT FALSE,
	sampled_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS completion_samples_service_sampled_at
	ON completion_samples (service, sampled_at DESC);
`

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// EnsureSchema creates the sample table if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%s - schema migration failed: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Schema ready", logPrefix))
	return nil
}
