package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Admin HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Outbound fetch metrics
	FetchRequestsTotal   *prometheus.CounterVec
	FetchRequestDuration *prometheus.HistogramVec
	FetchRetriesTotal    *prometheus.CounterVec

	// Analytics job metrics
	JobRunsTotal        *prometheus.CounterVec
	JobDuration         prometheus.Histogram
	RowsFetched         prometheus.Histogram
	ResolutionsTotal    *prometheus.CounterVec
	DispatchesTotal     *prometheus.CounterVec
	SitesDispatched     prometheus.Gauge
	LastDispatchSuccess prometheus.Gauge

	// Search metrics
	SearchRequestsTotal *prometheus.CounterVec
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	RateLimitTotal      *prometheus.CounterVec

	// Lock metrics
	LockAcquisitionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitepulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		FetchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_fetch_requests_total",
				Help: "Total number of outbound database and provider requests",
			},
			[]string{"method", "host", "status"},
		),
		FetchRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitepulse_fetch_request_duration_seconds",
				Help:    "Outbound request duration in seconds, per attempt",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "host"},
		),
		FetchRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_fetch_retries_total",
				Help: "Total number of retried outbound requests",
			},
			[]string{"host"},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_job_runs_total",
				Help: "Total number of per-site analytics jobs",
			},
			[]string{"status"},
		),
		JobDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitepulse_job_duration_seconds",
				Help:    "Per-site analytics job duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		RowsFetched: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitepulse_report_rows",
				Help:    "Page-view rows returned by the analytics provider per site",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_resolutions_total",
				Help: "Total number of page resolutions by page kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		DispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_dispatches_total",
				Help: "Total number of scheduled dispatch ticks",
			},
			[]string{"status"},
		),
		SitesDispatched: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitepulse_sites_dispatched",
				Help: "Number of eligible sites in the most recent dispatch",
			},
		),
		LastDispatchSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitepulse_last_dispatch_success_timestamp_seconds",
				Help: "Unix time of the last dispatch that completed",
			},
		),

		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_search_requests_total",
				Help: "Total number of federated search requests",
			},
			[]string{"mode", "status"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		RateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_rate_limit_decisions_total",
				Help: "Total number of rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),

		LockAcquisitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepulse_lock_acquisitions_total",
				Help: "Total number of lock attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.FetchRequestsTotal,
		m.FetchRequestDuration,
		m.FetchRetriesTotal,
		m.JobRunsTotal,
		m.JobDuration,
		m.RowsFetched,
		m.ResolutionsTotal,
		m.DispatchesTotal,
		m.SitesDispatched,
		m.LastDispatchSuccess,
		m.SearchRequestsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RateLimitTotal,
		m.LockAcquisitionsTotal,
	)

	return m
}

// NopMetrics returns metrics registered against a throwaway registry.
// Useful for tests and for components constructed without a registry.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template so path parameters do not
// explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
