package ga

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/manawiki/sitepulse/pkg/analytics"
	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/fetch"
	"github.com/manawiki/sitepulse/pkg/observability"
)

// ReadOnlyScope is the only scope the report client asks for
const ReadOnlyScope = "https://www.googleapis.com/auth/analytics.readonly"

// Poster issues JSON requests
type Poster interface {
	REST(ctx context.Context, method, rawURL string, body, out interface{}) error
}

// runReportRequest is the request body of the runReport method
type runReportRequest struct {
	DateRanges []dateRange `json:"dateRanges"`
	Dimensions []dimension `json:"dimensions"`
	Metrics    []metric    `json:"metrics"`
	OrderBys   []orderBy   `json:"orderBys"`
	Limit      int         `json:"limit,omitempty"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type dimension struct {
	Name string `json:"name"`
}

type metric struct {
	Name string `json:"name"`
}

type orderBy struct {
	Metric metricOrderBy `json:"metric"`
	Desc   bool          `json:"desc"`
}

type metricOrderBy struct {
	MetricName string `json:"metricName"`
}

// runReportResponse is the subset of the runReport response we read
type runReportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
	RowCount int `json:"rowCount"`
}

// Client reads page-view reports from the GA4 Data API
type Client struct {
	poster   Poster
	endpoint string
	cfg      config.AnalyticsConfig
	logger   *observability.Logger
}

// NewClient creates a Client that authenticates as the configured service
// account. Tokens are minted and refreshed by the oauth2 transport.
func NewClient(ctx context.Context, cfg config.AnalyticsConfig, fetchCfg config.FetchConfig, metrics *observability.Metrics, logger *observability.Logger) *Client {
	jwtConfig := &jwt.Config{
		Email:      cfg.ClientEmail,
		PrivateKey: []byte(NormalizePrivateKey(cfg.PrivateKey)),
		Scopes:     []string{ReadOnlyScope},
		TokenURL:   cfg.TokenURL,
	}

	poster := fetch.NewFromConfig(fetchCfg, "", metrics, logger).WithTransport(&oauth2.Transport{
		Source: jwtConfig.TokenSource(ctx),
		Base:   http.DefaultTransport,
	})
	return NewWithPoster(poster, cfg, logger)
}

// NewWithPoster creates a Client over an already-authenticated poster
func NewWithPoster(poster Poster, cfg config.AnalyticsConfig, logger *observability.Logger) *Client {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://analyticsdata.googleapis.com/v1beta"
	}
	if cfg.StartDate == "" {
		cfg.StartDate = "2daysAgo"
	}
	if cfg.EndDate == "" {
		cfg.EndDate = "today"
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &Client{
		poster:   poster,
		endpoint: endpoint,
		cfg:      cfg,
		logger:   logger,
	}
}

// NormalizePrivateKey turns literal "\n" sequences, as found in keys pasted
// into environment variables, into newlines
func NormalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// propertyName accepts both "123" and "properties/123"
func propertyName(propertyID string) string {
	id := strings.TrimPrefix(strings.TrimSpace(propertyID), "properties/")
	return "properties/" + url.PathEscape(id)
}

// TopPages returns page paths ordered by screen page views, most viewed first
func (c *Client) TopPages(ctx context.Context, propertyID string) ([]analytics.PageViewRow, error) {
	if strings.TrimSpace(propertyID) == "" {
		return nil, fmt.Errorf("property id is required")
	}

	req := runReportRequest{
		DateRanges: []dateRange{
			{StartDate: c.cfg.StartDate, EndDate: c.cfg.EndDate},
		},
		Dimensions: []dimension{
			{Name: "pagePath"},
		},
		Metrics: []metric{
			{Name: "screenPageViews"},
		},
		OrderBys: []orderBy{
			{
				Metric: metricOrderBy{MetricName: "screenPageViews"},
				Desc:   true,
			},
		},
		Limit: c.cfg.RowLimit,
	}

	endpoint := c.endpoint + "/" + propertyName(propertyID) + ":runReport"

	var resp runReportResponse
	if err := c.poster.REST(ctx, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to run report: %w", err)
	}

	rows := make([]analytics.PageViewRow, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.DimensionValues) < 1 || len(row.MetricValues) < 1 {
			c.logger.WithFields(map[string]interface{}{
				"dimensions": len(row.DimensionValues),
				"metrics":    len(row.MetricValues),
			}).Warn("Skipping malformed report row")
			continue
		}

		views, err := strconv.ParseInt(row.MetricValues[0].Value, 10, 64)
		if err != nil {
			c.logger.WithError(err).WithField("value", row.MetricValues[0].Value).Warn("Failed to parse page views")
			views = 0
		}

		rows = append(rows, analytics.PageViewRow{
			Path:  row.DimensionValues[0].Value,
			Views: views,
		})
	}

	c.logger.WithFields(map[string]interface{}{
		"property_id": propertyID,
		"rows":        len(rows),
		"total_rows":  resp.RowCount,
	}).Debug("Report fetched")

	return rows, nil
}
