//go:build integration

package statsdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/morezero/completion-registry/pkg/monitor"
)

const statsdbIntegrationPrefix = "statsdb:integration_test"

// testDBEnv returns the database URL for integration tests; skips the test if not set.
func testDBEnv(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("statsdb:integration_test - DATABASE_URL not set, skipping")
	}
	return url
}

func setupRepository(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	ctx := context.Background()

	pool, err := NewPool(ctx, testDBEnv(t))
	if err != nil {
		t.Fatalf("%s - NewPool failed: %v", statsdbIntegrationPrefix, err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("%s - EnsureSchema failed: %v", statsdbIntegrationPrefix, err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("%s - EnsureSchema not idempotent: %v", statsdbIntegrationPrefix, err)
	}

	repo := NewRepository(pool)
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("%s - Clear failed: %v", statsdbIntegrationPrefix, err)
	}
	return ctx, repo
}

func TestRepository_RecordAndRecent(t *testing.T) {
	ctx, repo := setupRepository(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s := &monitor.Sample{Service: "node-a", Pending: int64(i), Backlog: i == 2, Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Record(ctx, s); err != nil {
			t.Fatalf("%s - Record failed: %v", statsdbIntegrationPrefix, err)
		}
	}
	if err := repo.Record(ctx, &monitor.Sample{Service: "node-b", Pending: 9, Timestamp: base}); err != nil {
		t.Fatalf("%s - Record failed: %v", statsdbIntegrationPrefix, err)
	}

	got, err := repo.Recent(ctx, "node-a", 2)
	if err != nil {
		t.Fatalf("%s - Recent failed: %v", statsdbIntegrationPrefix, err)
	}
	if len(got) != 2 {
		t.Fatalf("%s - len = %d, want 2", statsdbIntegrationPrefix, len(got))
	}
	if got[0].Pending != 2 || !got[0].Backlog {
		t.Errorf("%s - newest sample = %+v", statsdbIntegrationPrefix, got[0])
	}
	if got[1].Pending != 1 {
		t.Errorf("%s - second sample = %+v", statsdbIntegrationPrefix, got[1])
	}
}

func TestRepository_AsMonitorRecorder(t *testing.T) {
	ctx, repo := setupRepository(t)

	var rec monitor.Recorder = repo
	if err := rec.Record(ctx, &monitor.Sample{Service: "node-c", Pending: 1, Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("%s - Record via interface failed: %v", statsdbIntegrationPrefix, err)
	}
	got, err := repo.Recent(ctx, "node-c", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("%s - Recent = %v, %v", statsdbIntegrationPrefix, got, err)
	}
}
