package analytics

import (
	"context"
	"time"

	"github.com/manawiki/sitepulse/pkg/pagepath"
	"github.com/manawiki/sitepulse/pkg/payload"
)

// PageViewRow is one line of the provider's report, pre-sorted by views descending
type PageViewRow struct {
	Path  string
	Views int64
}

// Snapshot is the aggregation result for one site
type Snapshot struct {
	TotalPosts    int64
	TotalEntries  int64
	TrendingPages []payload.TrendingPage
}

// RunResult describes one completed per-site job
type RunResult struct {
	RunID         string            `json:"runId"`
	SiteID        string            `json:"siteId"`
	SiteSlug      string            `json:"siteSlug"`
	RowsFetched   int               `json:"rowsFetched"`
	PagesResolved int               `json:"pagesResolved"`
	Patch         payload.SitePatch `json:"patch"`
	Persisted     bool              `json:"persisted"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
}

// Fetcher reads JSON documents from the core or a custom database
type Fetcher interface {
	Get(ctx context.Context, rawURL string, out interface{}) error
}

// Writer issues JSON write requests against the core database
type Writer interface {
	REST(ctx context.Context, method, rawURL string, body, out interface{}) error
}

// GraphQLFetcher runs GraphQL documents against the core database
type GraphQLFetcher interface {
	GraphQL(ctx context.Context, endpoint, query string, variables map[string]interface{}, out interface{}) error
}

// PageResolver resolves a classified page to its document summary.
// A nil summary with a nil error means the page was not found.
type PageResolver interface {
	Resolve(ctx context.Context, site payload.Site, page pagepath.Page) (*payload.DocSummary, error)
}

// ReportSource fetches a property's most viewed page paths
type ReportSource interface {
	TopPages(ctx context.Context, propertyID string) ([]PageViewRow, error)
}

// SiteSource enumerates the sites eligible for analytics
type SiteSource interface {
	EligibleSites(ctx context.Context) ([]payload.Site, error)
}
