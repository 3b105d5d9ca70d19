package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/manawiki/sitepulse/pkg/analytics"
	"github.com/manawiki/sitepulse/pkg/httputil"
	"github.com/manawiki/sitepulse/pkg/ledger"
	"github.com/manawiki/sitepulse/pkg/middleware"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/search"
)

const maxBodyBytes = 1 << 20

// Dispatcher triggers analytics runs
type Dispatcher interface {
	DispatchAll(ctx context.Context) (*analytics.DispatchSummary, error)
	RunSite(ctx context.Context, idOrSlug string) (*analytics.RunResult, error)
}

// Options wires the server's collaborators. Runs, Search, SearchLimiter and
// Health may be nil.
type Options struct {
	Dispatcher    Dispatcher
	Runs          ledger.Recorder
	Search        *search.Service
	SearchLimiter middleware.Limiter
	Health        *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	Logger        *observability.Logger

	// BaseContext parents background dispatches so they stop on shutdown
	BaseContext context.Context
	// DispatchTimeout bounds a background dispatch
	DispatchTimeout time.Duration
}

// Server is the admin and search HTTP API
type Server struct {
	router      *mux.Router
	opts        Options
	dispatching atomic.Bool
}

// NewServer creates a Server and registers its routes
func NewServer(opts Options) *Server {
	if opts.Runs == nil {
		opts.Runs = ledger.NopRecorder{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = time.Hour
	}

	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(observability.HTTPMetricsMiddleware(s.opts.Metrics))

	if s.opts.Health != nil {
		s.router.HandleFunc("/healthz", s.opts.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.opts.Health.Readiness).Methods("GET")
	}
	s.router.Handle("/metrics", observability.MetricsHandler(s.opts.Gatherer)).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/analytics/run", s.dispatchAll).Methods("POST")
	v1.HandleFunc("/sites/{siteId}/analytics/run", s.runSite).Methods("POST")
	v1.HandleFunc("/runs", s.listRuns).Methods("GET")

	if s.opts.Search != nil {
		sr := v1.NewRoute().Subrouter()
		if s.opts.SearchLimiter != nil {
			sr.Use(middleware.RateLimit(s.opts.SearchLimiter, s.opts.Metrics))
		}
		search.NewHandlers(s.opts.Search).RegisterRoutes(sr)
	}
}

// Handler returns the router wrapped in the request middleware chain
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware(s.opts.Logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	return otelhttp.NewHandler(chain(s.router), "sitepulse.api")
}
