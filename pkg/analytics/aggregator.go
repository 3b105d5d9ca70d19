package analytics

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/pagepath"
	"github.com/manawiki/sitepulse/pkg/payload"
)

// Aggregator turns a site's page-view rows into a Snapshot: the resolved
// trending pages plus post and entry totals
type Aggregator struct {
	resolver    PageResolver
	client      Fetcher
	settings    config.Settings
	concurrency int
	metrics     *observability.Metrics
}

// NewAggregator creates an Aggregator. concurrency bounds the in-flight
// lookups per site for resolution and for per-collection counts.
func NewAggregator(resolver PageResolver, client Fetcher, settings config.Settings, concurrency int, metrics *observability.Metrics) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Aggregator{
		resolver:    resolver,
		client:      client,
		settings:    settings,
		concurrency: concurrency,
		metrics:     metrics,
	}
}

// Build computes trending pages, total posts and total entries concurrently.
// The first hard error cancels the remaining branches.
func (a *Aggregator) Build(ctx context.Context, site payload.Site, rows []PageViewRow) (*Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		trending, err := a.Trending(gctx, site, rows)
		if err != nil {
			return err
		}
		snap.TrendingPages = trending
		return nil
	})

	g.Go(func() error {
		n, err := a.TotalPosts(gctx, site)
		if err != nil {
			return err
		}
		snap.TotalPosts = n
		return nil
	})

	g.Go(func() error {
		n, err := a.TotalEntries(gctx, site)
		if err != nil {
			return err
		}
		snap.TotalEntries = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

type candidate struct {
	row  PageViewRow
	page pagepath.Page
}

// Trending resolves every non-homepage row and returns the resolved ones in
// the provider's order. Rows that classify as Unknown or resolve to nothing
// are dropped.
func (a *Aggregator) Trending(ctx context.Context, site payload.Site, rows []PageViewRow) ([]payload.TrendingPage, error) {
	candidates := make([]candidate, 0, len(rows))
	for _, row := range rows {
		page := pagepath.Classify(row.Path, site.Slug)
		if !pagepath.Resolvable(page) {
			continue
		}
		candidates = append(candidates, candidate{row: row, page: page})
	}

	docs := make([]*payload.DocSummary, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			doc, err := a.resolver.Resolve(gctx, site, c.page)
			if err != nil {
				a.metrics.ResolutionsTotal.WithLabelValues(c.page.Kind(), "error").Inc()
				return fmt.Errorf("failed to resolve %s: %w", c.row.Path, err)
			}
			outcome := "resolved"
			if doc == nil {
				outcome = "miss"
			}
			a.metrics.ResolutionsTotal.WithLabelValues(c.page.Kind(), outcome).Inc()
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	trending := make([]payload.TrendingPage, 0, len(candidates))
	for i, c := range candidates {
		if docs[i] == nil {
			continue
		}
		trending = append(trending, payload.TrendingPage{
			Path:      c.row.Path,
			PageViews: c.row.Views,
			Data:      *docs[i],
		})
	}
	return trending, nil
}

// TotalPosts counts the site's posts in the core database
func (a *Aggregator) TotalPosts(ctx context.Context, site payload.Site) (int64, error) {
	q := payload.Query{Where: payload.Equals("site", site.ID), Depth: 0, Limit: 1}
	n, err := a.count(ctx, q.URL(a.settings.CoreAPI("posts")))
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// TotalEntries sums CollectionCount over every collection of the site
func (a *Aggregator) TotalEntries(ctx context.Context, site payload.Site) (int64, error) {
	counts := make([]int64, len(site.Collections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, c := range site.Collections {
		i, c := i, c
		g.Go(func() error {
			n, err := a.CollectionCount(gctx, site, c)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// CollectionCount counts one collection's documents: the whole collection in
// the site's custom database, or the site's entries of that collection in core
func (a *Aggregator) CollectionCount(ctx context.Context, site payload.Site, c payload.Collection) (int64, error) {
	var endpoint string
	if c.CustomDatabase {
		base, err := a.settings.CustomAPI(site.Slug, c.Slug)
		if err != nil {
			return 0, fmt.Errorf("failed to count collection %s: %w", c.Slug, err)
		}
		q := payload.Query{Depth: 0, Limit: 1}
		endpoint = q.URL(base)
	} else {
		q := payload.Query{
			Where: payload.And(
				payload.Equals("site", site.ID),
				payload.Equals("collectionEntity", c.ID),
			),
			Depth: 0,
			Limit: 1,
		}
		endpoint = q.URL(a.settings.CoreAPI("entries"))
	}

	n, err := a.count(ctx, endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", c.Slug, err)
	}
	return n, nil
}

// count reads totalDocs; a missing value counts as zero
func (a *Aggregator) count(ctx context.Context, endpoint string) (int64, error) {
	var page payload.PaginatedDocs[struct{}]
	if err := a.client.Get(ctx, endpoint, &page); err != nil {
		return 0, err
	}
	if page.TotalDocs < 0 {
		return 0, nil
	}
	return page.TotalDocs, nil
}
