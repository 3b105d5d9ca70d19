package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/manawiki/sitepulse/pkg/async"
	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/payload"
)

// DispatchLockKey guards against overlapping dispatches across replicas
const DispatchLockKey = "sitepulse:dispatch"

var (
	// ErrDispatchInProgress is returned when another dispatch holds the lock
	ErrDispatchInProgress = errors.New("dispatch already in progress")

	// ErrSiteNotFound is returned by RunSite for an unknown or ineligible site
	ErrSiteNotFound = errors.New("site not found or not eligible")
)

// GraphQLSiteSource lists eligible sites through the core GraphQL endpoint
type GraphQLSiteSource struct {
	client   GraphQLFetcher
	settings config.Settings
}

// NewGraphQLSiteSource creates a GraphQLSiteSource
func NewGraphQLSiteSource(client GraphQLFetcher, settings config.Settings) *GraphQLSiteSource {
	return &GraphQLSiteSource{client: client, settings: settings}
}

// maxSitePages bounds enumeration in case the CMS keeps reporting a next page
const maxSitePages = 1000

// EligibleSites returns every site that has both analytics identifiers,
// following the listing page by page
func (s *GraphQLSiteSource) EligibleSites(ctx context.Context) ([]payload.Site, error) {
	sites := make([]payload.Site, 0)
	for page := 1; page <= maxSitePages; page++ {
		var resp payload.EligibleSitesResponse
		vars := map[string]interface{}{"page": page, "limit": payload.EligibleSitesPageSize}
		if err := s.client.GraphQL(ctx, s.settings.GraphQLEndpoint(), payload.EligibleSitesQuery, vars, &resp); err != nil {
			return nil, fmt.Errorf("failed to list sites (page %d): %w", page, err)
		}

		for _, site := range resp.SiteData.Docs {
			if site.Eligible() {
				sites = append(sites, site)
			}
		}
		if !resp.SiteData.HasNextPage || len(resp.SiteData.Docs) == 0 {
			return sites, nil
		}
	}
	return nil, fmt.Errorf("failed to list sites: more than %d pages", maxSitePages)
}

// SiteRunner runs the analytics pipeline for one site
type SiteRunner interface {
	Run(ctx context.Context, site payload.Site) (*RunResult, error)
}

// Locker takes a best-effort named lock. acquired is false when someone
// else holds it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, acquired bool, err error)
}

// lockMargin is how much longer the dispatch lease lives than the dispatch itself
const lockMargin = 5 * time.Minute

// DispatcherOptions tunes the fan-out
type DispatcherOptions struct {
	Concurrency     int
	// JobTimeout bounds one site's run
	JobTimeout      time.Duration
	// DispatchTimeout bounds a whole DispatchAll
	DispatchTimeout time.Duration
	// LockTTL is the dispatch lease. It is raised to outlive DispatchTimeout.
	LockTTL         time.Duration
}

// SiteOutcome is one site's entry in a DispatchSummary
type SiteOutcome struct {
	SiteID   string     `json:"siteId"`
	SiteSlug string     `json:"siteSlug"`
	Result   *RunResult `json:"result,omitempty"`
	Skipped  bool       `json:"skipped,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// DispatchSummary reports a whole dispatch
type DispatchSummary struct {
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Sites      int           `json:"sites"`
	Succeeded  int           `json:"succeeded"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Outcomes   []SiteOutcome `json:"outcomes"`
}

// Dispatcher fans the per-site job out over every eligible site
type Dispatcher struct {
	sites   SiteSource
	runner  SiteRunner
	locker  Locker
	opts    DispatcherOptions
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewDispatcher creates a Dispatcher. A nil locker disables locking.
func NewDispatcher(sites SiteSource, runner SiteRunner, locker Locker, opts DispatcherOptions, metrics *observability.Metrics, logger *observability.Logger) *Dispatcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 3 * time.Hour
	}
	if opts.LockTTL <= opts.DispatchTimeout {
		opts.LockTTL = opts.DispatchTimeout + lockMargin
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Dispatcher{
		sites:   sites,
		runner:  runner,
		locker:  locker,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}
}

// DispatchAll runs the job for every eligible site with bounded concurrency.
// A failing site is reported in the summary and never stops the others; the
// returned error covers only dispatch-level problems.
func (d *Dispatcher) DispatchAll(ctx context.Context) (*DispatchSummary, error) {
	ctx, span := observability.Tracer().Start(ctx, "analytics.dispatch")
	defer span.End()

	// the lease outlives this deadline, so no other replica starts mid-run
	ctx, cancel := context.WithTimeout(ctx, d.opts.DispatchTimeout)
	defer cancel()

	if d.locker != nil {
		unlock, acquired, err := d.locker.TryLock(ctx, DispatchLockKey, d.opts.LockTTL)
		switch {
		case err != nil:
			d.logger.WithError(err).Warn("Dispatch lock unavailable; continuing unlocked")
		case !acquired:
			d.metrics.DispatchesTotal.WithLabelValues("skipped").Inc()
			d.logger.Info("Dispatch skipped: another dispatch holds the lock")
			return nil, ErrDispatchInProgress
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					d.logger.WithError(err).Warn("Failed to release dispatch lock")
				}
			}()
		}
	}

	summary := &DispatchSummary{StartedAt: time.Now().UTC()}

	sites, err := d.sites.EligibleSites(ctx)
	if err != nil {
		d.metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	summary.Sites = len(sites)
	d.metrics.SitesDispatched.Set(float64(len(sites)))
	d.logger.Infof("Dispatching analytics for %d sites", len(sites))

	results := async.Map(ctx, d.logger, sites, d.opts.Concurrency, "site analytics", d.opts.JobTimeout,
		func(ctx context.Context, site payload.Site) (*RunResult, error) {
			return d.runner.Run(ctx, site)
		})

	summary.Outcomes = make([]SiteOutcome, len(results))
	for i, r := range results {
		outcome := SiteOutcome{SiteID: r.Item.ID, SiteSlug: r.Item.Slug, Result: r.Value}
		switch {
		case errors.Is(r.Err, ErrNoProperty):
			outcome.Skipped = true
			summary.Skipped++
		case r.Err != nil:
			outcome.Error = r.Err.Error()
			summary.Failed++
		default:
			summary.Succeeded++
		}
		summary.Outcomes[i] = outcome
	}
	summary.FinishedAt = time.Now().UTC()

	status := "completed"
	if summary.Failed > 0 {
		status = "partial"
	} else {
		d.metrics.LastDispatchSuccess.Set(float64(summary.FinishedAt.Unix()))
	}
	d.metrics.DispatchesTotal.WithLabelValues(status).Inc()

	d.logger.WithFields(map[string]interface{}{
		"sites":       summary.Sites,
		"succeeded":   summary.Succeeded,
		"skipped":     summary.Skipped,
		"failed":      summary.Failed,
		"duration_ms": summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	}).Info("Dispatch finished")

	return summary, nil
}

// RunSite runs the job for the eligible site whose id or slug matches
func (d *Dispatcher) RunSite(ctx context.Context, idOrSlug string) (*RunResult, error) {
	sites, err := d.sites.EligibleSites(ctx)
	if err != nil {
		return nil, err
	}

	for _, site := range sites {
		if site.ID == idOrSlug || site.Slug == idOrSlug {
			ctx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
			defer cancel()
			return d.runner.Run(ctx, site)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, idOrSlug)
}
