package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/manawiki/sitepulse/pkg/ledger"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/payload"
)

// ErrNoProperty is returned for a site without an analytics property id
var ErrNoProperty = errors.New("site has no analytics property")

// Job runs the fetch, aggregate and persist pipeline for one site
type Job struct {
	reports    ReportSource
	aggregator *Aggregator
	persister  *Persister
	ledger     ledger.Recorder
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time
}

// NewJob creates a Job. A nil recorder disables the run ledger.
func NewJob(reports ReportSource, aggregator *Aggregator, persister *Persister, recorder ledger.Recorder, metrics *observability.Metrics, logger *observability.Logger) *Job {
	if recorder == nil {
		recorder = ledger.NopRecorder{}
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Job{
		reports:    reports,
		aggregator: aggregator,
		persister:  persister,
		ledger:     recorder,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the pipeline for site. Nothing is written when any step
// before persisting fails.
func (j *Job) Run(ctx context.Context, site payload.Site) (result *RunResult, err error) {
	result = &RunResult{
		RunID:     uuid.NewString(),
		SiteID:    site.ID,
		SiteSlug:  site.Slug,
		StartedAt: j.now().UTC(),
	}

	ctx = observability.WithRunID(ctx, result.RunID)
	ctx, span := observability.Tracer().Start(ctx, "analytics.site_run")
	defer span.End()
	span.SetAttributes(
		attribute.String("site.id", site.ID),
		attribute.String("site.slug", site.Slug),
		attribute.String("run.id", result.RunID),
	)

	logger := observability.UpdateLoggerWithTraceContext(ctx, j.logger.WithFields(map[string]interface{}{
		"run_id":    result.RunID,
		"site_id":   site.ID,
		"site_slug": site.Slug,
	}))

	defer func() {
		result.FinishedAt = j.now().UTC()
		status := ledger.StatusSuccess
		switch {
		case errors.Is(err, ErrNoProperty):
			status = ledger.StatusSkipped
		case err != nil:
			status = ledger.StatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		j.metrics.JobRunsTotal.WithLabelValues(string(status)).Inc()
		j.metrics.JobDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
		j.record(ctx, logger, result, status, err)

		switch {
		case status == ledger.StatusSkipped:
			logger.Info("Site has no analytics property; run skipped")
			return
		case err != nil:
			logger.WithError(err).Error("Site analytics run failed")
			return
		}
		logger.WithFields(map[string]interface{}{
			"rows_fetched":   result.RowsFetched,
			"pages_resolved": result.PagesResolved,
			"persisted":      result.Persisted,
			"duration_ms":    result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		}).Info("Site analytics run completed")
	}()

	if site.GAPropertyID == "" {
		return result, ErrNoProperty
	}

	rows, err := j.reports.TopPages(ctx, site.GAPropertyID)
	if err != nil {
		return result, fmt.Errorf("failed to fetch top pages: %w", err)
	}
	result.RowsFetched = len(rows)
	j.metrics.RowsFetched.Observe(float64(len(rows)))
	logger.Debugf("Fetched %d report rows", len(rows))

	snap, err := j.aggregator.Build(ctx, site, rows)
	if err != nil {
		return result, fmt.Errorf("failed to aggregate: %w", err)
	}
	result.PagesResolved = len(snap.TrendingPages)

	result.Patch = BuildPatch(snap)
	if result.Patch.IsEmpty() {
		logger.Warn("Run observed nothing; stored aggregates left unchanged")
	}

	result.Persisted, err = j.persister.Persist(ctx, site.ID, result.Patch)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (j *Job) record(ctx context.Context, logger *observability.Logger, result *RunResult, status ledger.Status, runErr error) {
	run := &ledger.Run{
		RunID:         result.RunID,
		SiteID:        result.SiteID,
		SiteSlug:      result.SiteSlug,
		Status:        status,
		RowsFetched:   result.RowsFetched,
		PagesResolved: result.PagesResolved,
		TotalPosts:    result.Patch.TotalPosts,
		TotalEntries:  result.Patch.TotalEntries,
		Persisted:     result.Persisted,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
	}
	if runErr != nil {
		run.ErrorMessage = runErr.Error()
	}

	// a cancelled run is still recorded
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := j.ledger.Record(recordCtx, run); err != nil {
		logger.WithError(err).Warn("Failed to record run in ledger")
	}
}
