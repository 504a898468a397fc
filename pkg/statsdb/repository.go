package statsdb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/completion-registry/pkg/monitor"
)

const repoLogPrefix = "statsdb:repository"

// Repository stores and queries backlog samples. It implements monitor.Recorder.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one sample.
func (r *Repository) Record(ctx context.Context, s *monitor.Sample) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO completion_samples (service, pending, backlog, sampled_at)
		 VALUES ($1, $2, $3, $4)`,
		s.Service, s.Pending, s.Backlog, s.Timestamp)
	if err != nil {
		return fmt.Errorf("%s - insert sample failed: %w", repoLogPrefix, err)
	}
	slog.Debug(fmt.Sprintf("%s - Recorded sample service=%s pending=%d", repoLogPrefix, s.Service, s.Pending))
	return nil
}

// Recent returns up to limit samples for service, newest first.
func (r *Repository) Recent(ctx context.Context, service string, limit int) ([]monitor.Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT service, pending, backlog, sampled_at
		 FROM completion_samples
		 WHERE service = $1
		 ORDER BY sampled_at DESC, id DESC
		 LIMIT $2`, service, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - query samples failed: %w", repoLogPrefix, err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (monitor.Sample, error) {
		var s monitor.Sample
		err := row.Scan(&s.Service, &s.Pending, &s.Backlog, &s.Timestamp)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s - scan samples failed: %w", repoLogPrefix, err)
	}
	return samples, nil
}

// Clear removes all samples. Schema is preserved.
func (r *Repository) Clear(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `TRUNCATE TABLE completion_samples RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", repoLogPrefix, err)
	}
	return nil
}
