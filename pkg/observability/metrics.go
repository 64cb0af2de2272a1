package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the identity hub
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Federation metrics
	RegistrationMessagesTotal *prometheus.CounterVec // result: ok|malformed|error
	RegistrationItemsTotal    *prometheus.CounterVec // kind: permission|role|user|client, outcome: created|existing|updated|skipped

	// Reconciliation metrics
	ReconcileTicksTotal   *prometheus.CounterVec // result: ok|error
	ModulesAutoRegistered prometheus.Counter
	ModulesReactivated    prometheus.Counter
	ModulesDeactivated    prometheus.Counter
	ReconcileTickDuration prometheus.Histogram

	// Claims metrics
	ClaimsIssuedTotal  *prometheus.CounterVec // type
	ClaimsDroppedTotal *prometheus.CounterVec // reason: restricted|excluded

	// Directory sync metrics
	DirectoryUsersTotal *prometheus.CounterVec // outcome: created|existing|skipped

	// Bus metrics
	BusMessagesTotal  *prometheus.CounterVec // stream, result: ok|handler_error|malformed|read_error
	BusHandlerSeconds *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RegistrationMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_registration_messages_total",
				Help: "Total register-module messages processed",
			},
			[]string{"result"},
		),
		RegistrationItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_registration_items_total",
				Help: "Per-item outcomes while merging registration messages",
			},
			[]string{"kind", "outcome"},
		),
		ReconcileTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_reconcile_ticks_total",
				Help: "Total reconciliation ticks by result",
			},
			[]string{"result"},
		),
		ModulesAutoRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idhub_modules_auto_registered_total",
				Help: "Modules created from service discovery",
			},
		),
		ModulesReactivated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idhub_modules_reactivated_total",
				Help: "Inactive modules flipped back to active by reconciliation",
			},
		),
		ModulesDeactivated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idhub_modules_deactivated_total",
				Help: "Modules deactivated after consecutive discovery misses",
			},
		),
		ReconcileTickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "idhub_reconcile_tick_duration_seconds",
				Help:    "Duration of a reconciliation tick",
				Buckets: prometheus.DefBuckets,
			},
		),
		ClaimsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_claims_issued_total",
				Help: "Claims attached to principals by claim type",
			},
			[]string{"type"},
		),
		ClaimsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_claims_dropped_total",
				Help: "Claims suppressed at issuance",
			},
			[]string{"reason"},
		),
		DirectoryUsersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_directory_users_total",
				Help: "Directory entries processed by sync outcome",
			},
			[]string{"outcome"},
		),
		BusMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idhub_bus_messages_total",
				Help: "Bus messages consumed by stream and result",
			},
			[]string{"stream", "result"},
		),
		BusHandlerSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idhub_bus_handler_duration_seconds",
				Help:    "Bus handler execution time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stream"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idhub_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idhub_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RegistrationMessagesTotal,
		m.RegistrationItemsTotal,
		m.ReconcileTicksTotal,
		m.ModulesAutoRegistered,
		m.ModulesReactivated,
		m.ModulesDeactivated,
		m.ReconcileTickDuration,
		m.ClaimsIssuedTotal,
		m.ClaimsDroppedTotal,
		m.DirectoryUsersTotal,
		m.BusMessagesTotal,
		m.BusHandlerSeconds,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an http.Handler exposing the registry in Prometheus format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments an http.Handler with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
