// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("module", "Billing").Info("module registered")
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RegistrationMessagesTotal.WithLabelValues("ok").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	mux.HandleFunc("/health/live", checker.Liveness)
//	mux.HandleFunc("/health/ready", checker.Readiness)
package observability
