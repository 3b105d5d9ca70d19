//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/manawiki/sitepulse/pkg/config"
)

// startPostgres runs a disposable Postgres and returns its connection string.
// The test is skipped when no container runtime is available.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("sitepulse_test"),
		postgres.WithUsername("sitepulse"),
		postgres.WithPassword("sitepulse_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		// fresh context: the test's may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresRecorder_Integration(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	rec, err := Open(ctx, config.LedgerConfig{PostgresURL: connStr, MaxConns: 2})
	require.NoError(t, err)
	defer rec.Close()

	// opening twice must not fail on the existing table
	again, err := NewPostgresRecorder(rec.DB())
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []*Run{
		{RunID: "r-1", SiteID: "site-1", SiteSlug: "demo", Status: StatusSuccess, RowsFetched: 20, PagesResolved: 12,
			TotalPosts: 7, TotalEntries: 40, Persisted: true, StartedAt: base, FinishedAt: base.Add(3 * time.Second)},
		{RunID: "r-2", SiteID: "site-1", SiteSlug: "demo", Status: StatusFailed, ErrorMessage: "failed to fetch top pages: 403",
			StartedAt: base.Add(4 * time.Hour), FinishedAt: base.Add(4*time.Hour + time.Second)},
		{RunID: "r-3", SiteID: "site-2", SiteSlug: "other", Status: StatusSkipped,
			StartedAt: base.Add(5 * time.Hour), FinishedAt: base.Add(5 * time.Hour)},
	}
	for _, run := range runs {
		require.NoError(t, again.Record(ctx, run))
		assert.NotZero(t, run.ID)
	}

	all, err := rec.Recent(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r-3", all[0].RunID, "newest first")
	assert.Equal(t, "r-1", all[2].RunID)
	assert.Equal(t, int64(40), all[2].TotalEntries)
	assert.True(t, all[2].Persisted)
	assert.Empty(t, all[2].ErrorMessage)
	assert.True(t, base.Equal(all[2].StartedAt))

	site1, err := rec.Recent(ctx, Filter{SiteID: "site-1"})
	require.NoError(t, err)
	require.Len(t, site1, 2)
	assert.Equal(t, "failed to fetch top pages: 403", site1[0].ErrorMessage)

	failed, err := rec.Recent(ctx, Filter{Statuses: []Status{StatusFailed, StatusSkipped}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "r-3", failed[0].RunID)
}
