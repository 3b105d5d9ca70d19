package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/fetch"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/payload"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 60 * time.Second
)

// Fetcher reads JSON documents
type Fetcher interface {
	Get(ctx context.Context, rawURL string, out interface{}) error
}

// NewPublicClient returns the client search should read through. It sends
// no credentials, so results are limited to what the databases show
// anonymous visitors.
func NewPublicClient(cfg config.FetchConfig, metrics *observability.Metrics, logger *observability.Logger) *fetch.Client {
	return fetch.NewFromConfig(cfg, "", metrics, logger)
}

// Service runs name searches against the core and custom databases
type Service struct {
	client   Fetcher
	settings config.Settings
	cache    *lru.LRU[string, []Result]
	ttl      time.Duration
	metrics  *observability.Metrics
}

// NewService creates a Service. Results are cached per site, mode and query.
func NewService(client Fetcher, settings config.Settings, cfg config.SearchConfig, metrics *observability.Metrics) *Service {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}

	return &Service{
		client:   client,
		settings: settings,
		cache:    lru.NewLRU[string, []Result](size, nil, ttl),
		ttl:      ttl,
		metrics:  metrics,
	}
}

// TTL is how long results stay fresh
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Search returns hits whose name contains q, highest priority first. In
// ModeCustom the site's custom database is searched alongside the core one.
func (s *Service) Search(ctx context.Context, siteSlug, q string, mode Mode) ([]Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "search.Search",
		trace.WithAttributes(
			attribute.String("site.slug", siteSlug),
			attribute.String("search.mode", string(mode)),
		),
	)
	defer span.End()

	if !config.ValidSiteSlug(siteSlug) {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidSiteSlug, siteSlug)
	}

	q = strings.TrimSpace(q)
	if q == "" {
		return []Result{}, nil
	}

	key := cacheKey(siteSlug, mode, q)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.CacheHitsTotal.WithLabelValues("search").Inc()
		s.metrics.SearchRequestsTotal.WithLabelValues(string(mode), "cached").Inc()
		return cached, nil
	}
	s.metrics.CacheMissesTotal.WithLabelValues("search").Inc()

	var (
		hits []Hit
		err  error
	)
	switch mode {
	case ModeCore:
		hits, err = s.searchCore(ctx, siteSlug, q)
	case ModeCustom:
		hits, err = s.searchBoth(ctx, siteSlug, q)
	default:
		err = fmt.Errorf("unknown search mode %q", mode)
	}
	if err != nil {
		s.metrics.SearchRequestsTotal.WithLabelValues(string(mode), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(siteSlug, h)
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))

	s.cache.Add(key, results)
	s.metrics.SearchRequestsTotal.WithLabelValues(string(mode), "ok").Inc()
	return results, nil
}

func (s *Service) searchCore(ctx context.Context, siteSlug, q string) ([]Hit, error) {
	query := payload.Query{
		Where: payload.And(
			payload.Equals("site.slug", siteSlug),
			payload.Contains("name", q),
		),
		Depth: 1,
		Sort:  "-priority",
	}
	return s.fetch(ctx, query.URL(s.settings.CoreAPI("search")))
}

func (s *Service) searchCustom(ctx context.Context, siteSlug, q string) ([]Hit, error) {
	query := payload.Query{
		Where: payload.Contains("name", q),
		Depth: 1,
		Sort:  "-priority",
	}
	endpoint, err := s.settings.CustomAPI(siteSlug, "search")
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, query.URL(endpoint))
}

// searchBoth queries both databases concurrently and merges by priority
func (s *Service) searchBoth(ctx context.Context, siteSlug, q string) ([]Hit, error) {
	var core, custom []Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		core, err = s.searchCore(gctx, siteSlug, q)
		return err
	})
	g.Go(func() error {
		var err error
		custom, err = s.searchCustom(gctx, siteSlug, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]Hit, 0, len(core)+len(custom))
	merged = append(merged, core...)
	merged = append(merged, custom...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority > merged[j].Priority
	})
	return merged, nil
}

func (s *Service) fetch(ctx context.Context, endpoint string) ([]Hit, error) {
	var page payload.PaginatedDocs[Hit]
	if err := s.client.Get(ctx, endpoint, &page); err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if page.Docs == nil {
		return []Hit{}, nil
	}
	return page.Docs, nil
}
