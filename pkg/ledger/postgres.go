package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/manawiki/sitepulse/pkg/config"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// PostgresRecorder stores runs in the analytics_runs table
type PostgresRecorder struct {
	db *sql.DB
}

// Open connects to Postgres and prepares the ledger table
func Open(ctx context.Context, cfg config.LedgerConfig) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}

	rec, err := NewPostgresRecorder(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return rec, nil
}

// NewPostgresRecorder wraps an open database
func NewPostgresRecorder(db *sql.DB) (*PostgresRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	rec := &PostgresRecorder{db: db}
	if err := rec.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure analytics_runs table: %w", err)
	}
	return rec, nil
}

// DB exposes the connection for health checks
func (r *PostgresRecorder) DB() *sql.DB {
	return r.db
}

// Close closes the underlying connection pool
func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}

func (r *PostgresRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS analytics_runs (
		id BIGSERIAL PRIMARY KEY,
		run_id VARCHAR(64) NOT NULL,
		site_id VARCHAR(64) NOT NULL,
		site_slug VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL,
		rows_fetched INTEGER NOT NULL DEFAULT 0,
		pages_resolved INTEGER NOT NULL DEFAULT 0,
		total_posts BIGINT NOT NULL DEFAULT 0,
		total_entries BIGINT NOT NULL DEFAULT 0,
		persisted BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		finished_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_analytics_runs_site_id ON analytics_runs(site_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_analytics_runs_started_at ON analytics_runs(started_at DESC);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record inserts a run and fills in its ID
func (r *PostgresRecorder) Record(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO analytics_runs (
			run_id, site_id, site_slug, status,
			rows_fetched, pages_resolved, total_posts, total_entries,
			persisted, error_message, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		) RETURNING id
	`

	var errMsg sql.NullString
	if run.ErrorMessage != "" {
		errMsg = sql.NullString{String: run.ErrorMessage, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		run.RunID, run.SiteID, run.SiteSlug, string(run.Status),
		run.RowsFetched, run.PagesResolved, run.TotalPosts, run.TotalEntries,
		run.Persisted, errMsg, run.StartedAt, run.FinishedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Recent lists runs newest first
func (r *PostgresRecorder) Recent(ctx context.Context, filter Filter) ([]Run, error) {
	query := `
		SELECT id, run_id, site_id, site_slug, status,
			rows_fetched, pages_resolved, total_posts, total_entries,
			persisted, error_message, started_at, finished_at
		FROM analytics_runs
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filter.SiteID != "" {
		query += fmt.Sprintf(" AND site_id = $%d", argCount)
		args = append(args, filter.SiteID)
		argCount++
	}

	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argCount)
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run    Run
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.RunID, &run.SiteID, &run.SiteSlug, &status,
			&run.RowsFetched, &run.PagesResolved, &run.TotalPosts, &run.TotalEntries,
			&run.Persisted, &errMsg, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = Status(status)
		run.ErrorMessage = errMsg.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}
