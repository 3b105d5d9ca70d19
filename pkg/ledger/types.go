package ledger

import (
	"context"
	"time"
)

// Status is the outcome of one per-site run
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Run is one ledger row. Only run metadata is kept; the aggregates
// themselves live on the site record.
type Run struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"runId"`
	SiteID        string    `json:"siteId"`
	SiteSlug      string    `json:"siteSlug"`
	Status        Status    `json:"status"`
	RowsFetched   int       `json:"rowsFetched"`
	PagesResolved int       `json:"pagesResolved"`
	TotalPosts    int64     `json:"totalPosts"`
	TotalEntries  int64     `json:"totalEntries"`
	Persisted     bool      `json:"persisted"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Duration is the wall time of the run
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Filter narrows Recent
type Filter struct {
	SiteID   string
	Statuses []Status
	Limit    int
}

// Recorder stores and lists runs
type Recorder interface {
	Record(ctx context.Context, run *Run) error
	Recent(ctx context.Context, filter Filter) ([]Run, error)
}

// NopRecorder discards runs. It is used when no Postgres URL is configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Run) error { return nil }

func (NopRecorder) Recent(context.Context, Filter) ([]Run, error) { return nil, nil }
