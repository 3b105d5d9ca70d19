package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/manawiki/sitepulse/pkg/analytics"
	"github.com/manawiki/sitepulse/pkg/api"
	"github.com/manawiki/sitepulse/pkg/async"
	"github.com/manawiki/sitepulse/pkg/config"
	"github.com/manawiki/sitepulse/pkg/fetch"
	"github.com/manawiki/sitepulse/pkg/ga"
	"github.com/manawiki/sitepulse/pkg/ledger"
	"github.com/manawiki/sitepulse/pkg/lock"
	"github.com/manawiki/sitepulse/pkg/middleware"
	"github.com/manawiki/sitepulse/pkg/observability"
	"github.com/manawiki/sitepulse/pkg/resolver"
	"github.com/manawiki/sitepulse/pkg/search"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	runOnce = flag.Bool("run-once", false, "Dispatch every eligible site once and exit")
	site    = flag.String("site", "", "With --run-once, run only this site id or slug")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sitepulse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting sitepulse")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	var locker analytics.Locker
	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		redisClient = client
		locker = lock.NewRedisLocker(client, metrics)
		logger.Info("Using Redis dispatch lock")
	} else {
		locker = lock.NewLocalLocker(metrics)
		logger.Info("Redis not configured, using in-process dispatch lock")
	}

	var recorder ledger.Recorder = ledger.NopRecorder{}
	var ledgerStore *ledger.PostgresRecorder
	if cfg.Ledger.PostgresURL != "" {
		ledgerStore, err = ledger.Open(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		recorder = ledgerStore
		logger.Info("Run ledger enabled")
	}

	client := fetch.NewFromConfig(cfg.Fetch, cfg.Settings.APIKey, metrics, logger)
	aggregator := analytics.NewAggregator(
		resolver.New(client, cfg.Settings),
		client,
		cfg.Settings,
		cfg.Scheduler.ResolveConcurrency,
		metrics,
	)
	persister := analytics.NewPersister(client, cfg.Settings)
	reports := ga.NewClient(ctx, cfg.Analytics, cfg.Fetch, metrics, logger)
	job := analytics.NewJob(reports, aggregator, persister, recorder, metrics, logger)

	dispatcher := analytics.NewDispatcher(
		analytics.NewGraphQLSiteSource(client, cfg.Settings),
		job,
		locker,
		analytics.DispatcherOptions{
			Concurrency:     cfg.Scheduler.SiteConcurrency,
			JobTimeout:      cfg.Scheduler.JobTimeout,
			DispatchTimeout: cfg.Scheduler.DispatchTimeout,
			LockTTL:         cfg.Scheduler.LockTTL,
		},
		metrics,
		logger,
	)

	if *runOnce {
		defer closeStores(ledgerStore, redisClient, providers, logger)
		return runOnceAndExit(ctx, dispatcher, *site, logger)
	}

	var db *sql.DB
	if ledgerStore != nil {
		db = ledgerStore.DB()
	}

	var searchLimiter middleware.Limiter
	if cfg.Search.RateLimit > 0 {
		limit := middleware.RateLimitConfig{Limit: cfg.Search.RateLimit, Window: cfg.Search.RateWindow}
		if redisClient != nil {
			searchLimiter = middleware.NewRedisLimiter(redisClient, limit, "sitepulse:ratelimit:search")
		} else {
			searchLimiter = middleware.NewLocalLimiter(limit)
		}
	}

	server := api.NewServer(api.Options{
		Dispatcher:      dispatcher,
		Runs:            recorder,
		Search:          search.NewService(search.NewPublicClient(cfg.Fetch, metrics, logger), cfg.Settings, cfg.Search, metrics),
		SearchLimiter:   searchLimiter,
		Health:          observability.NewHealthChecker(db, redisClient, version),
		Metrics:         metrics,
		Gatherer:        registry,
		Logger:          logger,
		BaseContext:     ctx,
		DispatchTimeout: cfg.Scheduler.DispatchTimeout,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if ledgerStore != nil {
		shutdown.Register("ledger", func(context.Context) error { return ledgerStore.Close() })
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	if cfg.Scheduler.Enabled {
		scheduler, err := newScheduler(ctx, cfg.Scheduler, dispatcher, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		shutdown.Register("scheduler", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		logger.WithField("schedule", cfg.Scheduler.Schedule).Info("Analytics scheduler started")
	} else {
		logger.Info("Analytics scheduler disabled")
	}

	if path := os.Getenv(config.ConfigFileEnv); path != "" {
		go func() {
			err := config.Watch(ctx, path, logger, func(next *config.Config) {
				logger.SetLevel(next.Observability.LogLevel)
			})
			if err != nil {
				logger.WithError(err).Warn("Config reload disabled")
			}
		}()
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Admin server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Admin server failed")
			stop()
		}
	}()

	if err := shutdown.Wait(ctx); err != nil {
		return err
	}
	logger.Info("sitepulse stopped")
	return nil
}

// newScheduler registers the recurring dispatch. Overlapping ticks are
// skipped; the dispatch lock still guards against other replicas.
func newScheduler(ctx context.Context, cfg config.SchedulerConfig, dispatcher *analytics.Dispatcher, logger *observability.Logger) (*cron.Cron, error) {
	cronLog := cronLogger{logger: logger.WithField("component", "scheduler")}
	scheduler := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	dispatch := func() {
		if _, err := dispatcher.DispatchAll(ctx); err != nil {
			if errors.Is(err, analytics.ErrDispatchInProgress) {
				logger.Info("Dispatch already running elsewhere, skipping tick")
				return
			}
			logger.WithError(err).Error("Scheduled dispatch failed")
		}
	}

	if _, err := scheduler.AddFunc(cfg.Schedule, dispatch); err != nil {
		return nil, fmt.Errorf("failed to schedule dispatch: %w", err)
	}
	if cfg.RunOnStart {
		async.SafeGo(ctx, logger, cfg.DispatchTimeout, "startup dispatch", func(context.Context) error {
			dispatch()
			return nil
		})
	}
	return scheduler, nil
}

func runOnceAndExit(ctx context.Context, dispatcher *analytics.Dispatcher, site string, logger *observability.Logger) error {
	if site != "" {
		result, err := dispatcher.RunSite(ctx, site)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"run_id":    result.RunID,
			"site_slug": result.SiteSlug,
			"persisted": result.Persisted,
		}).Info("Site run completed")
		return nil
	}

	summary, err := dispatcher.DispatchAll(ctx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d sites failed", summary.Failed, summary.Sites)
	}
	return nil
}

func closeStores(ledgerStore *ledger.PostgresRecorder, redisClient redis.UniversalClient, providers *observability.OTelProviders, logger *observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := observability.ShutdownOTel(ctx, providers, logger); err != nil {
		logger.WithError(err).Warn("Failed to flush telemetry")
	}
	if ledgerStore != nil {
		if err := ledgerStore.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close ledger")
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close redis")
		}
	}
}
