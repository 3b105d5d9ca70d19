// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health probes and graceful shutdown for sitepulse.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter. Fields are nested under "fields":
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("site_slug", "demo").Info("Analytics job finished")
//
// Loggers travel through contexts so per-run fields reach every component:
//
//	ctx = observability.WithLogger(ctx, logger)
//	ctx = observability.WithRunID(ctx, runID)
//	observability.FromContext(ctx).Warn("Resolution miss")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.JobRunsTotal.WithLabelValues("success").Inc()
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Health Checks
//
// Both the ledger database and Redis are optional; nil values are skipped:
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "sitepulse",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
