package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/observability"
)

// maxErrorBody bounds how much of a failed response is kept in an HTTPError
const maxErrorBody = 4 << 10

// Options configures a Client
type Options struct {
	// APIKey, when set, is sent as "Authorization: users API-Key <key>"
	APIKey string
	// Timeout bounds each individual attempt
	Timeout time.Duration
	Retry   RetryConfig
	// RateLimit is the sustained requests per second across the client; zero disables limiting
	RateLimit float64
	RateBurst int
	// Transport is wrapped with OpenTelemetry instrumentation; defaults to http.DefaultTransport
	Transport http.RoundTripper
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// Client issues authenticated JSON requests against the core and custom
// databases with per-attempt timeouts, transient-only retries and rate limiting
type Client struct {
	http    *http.Client
	apiKey  string
	timeout time.Duration
	retry   *RetryPolicy
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *observability.Logger
}

// New creates a Client
func New(opts Options) *Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:    &http.Client{Transport: otelhttp.NewTransport(base)},
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
		retry:   NewRetryPolicy(opts.Retry),
		limiter: rate.NewLimiter(limit, burst),
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// NewFromConfig creates a Client for the platform databases
func NewFromConfig(cfg config.FetchConfig, apiKey string, metrics *observability.Metrics, logger *observability.Logger) *Client {
	return New(Options{
		APIKey:  apiKey,
		Timeout: cfg.Timeout,
		Retry: RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     cfg.MaxBackoff,
		},
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Metrics:   metrics,
		Logger:    logger,
	})
}

// WithTransport returns a copy of c whose requests go through rt, sharing
// the retry policy and rate limiter
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	clone := *c
	clone.http = &http.Client{Transport: otelhttp.NewTransport(rt)}
	return &clone
}

// Get issues a GET and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, rawURL string, out interface{}) error {
	return c.REST(ctx, http.MethodGet, rawURL, nil, out)
}

// REST issues a JSON request, retrying transient failures, and decodes the
// response into out when out is non-nil
func (c *Client) REST(ctx context.Context, method, rawURL string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		lastErr = c.attempt(ctx, method, rawURL, payload, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, rawURL, ctx.Err())
		}
		if !c.retry.ShouldRetry(attempt, lastErr) {
			return lastErr
		}

		delay := c.retry.NextRetryDelay(attempt)
		c.metrics.FetchRetriesTotal.WithLabelValues(hostOf(rawURL)).Inc()
		c.logger.WithError(lastErr).WithFields(map[string]interface{}{
			"method":  method,
			"url":     rawURL,
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Retrying request")

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s %s: %w", method, rawURL, err)
		}
	}
}

// attempt performs one request under its own timeout
func (c *Client) attempt(ctx context.Context, method, rawURL string, payload []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "users API-Key "+c.apiKey)
	}

	host := req.URL.Host
	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.FetchRequestDuration.WithLabelValues(method, host).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FetchRequestsTotal.WithLabelValues(method, host, "error").Inc()
		return fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	c.metrics.FetchRequestsTotal.WithLabelValues(method, host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     method,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, rawURL, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, rawURL, err)
	}
	return nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GraphQL posts a query document and decodes its data member into out.
// A non-empty errors array is returned as *GraphQLError.
func (c *Client) GraphQL(ctx context.Context, endpoint, query string, variables map[string]interface{}, out interface{}) error {
	var resp graphQLResponse
	if err := c.REST(ctx, http.MethodPost, endpoint, graphQLRequest{Query: query, Variables: variables}, &resp); err != nil {
		return err
	}

	if len(resp.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range resp.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return gqlErr
	}

	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to decode graphql data: %w", err)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid"
	}
	return u.Host
}
