// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithOrganization("org-1").WithField("rule_id", 7).Info("rule granted")
//
// FromContext picks up the request id, organization and actor stored by
// the API middleware (see package contextkeys).
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// All recording helpers accept a nil *Metrics.
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "assetperm",
//		Insecure:    true,
//	}, logger)
//	defer providers.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, "scope.Resolve")
//	defer observability.EndSpan(span, err)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version, db, redisClient)
//	router.HandleFunc("/healthz", checker.Liveness)
//	router.HandleFunc("/readyz", checker.Readiness)
package observability
