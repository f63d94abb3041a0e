package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal         *prometheus.CounterVec // outcome: success|invalid_credentials|error
	TokenVerifications  *prometheus.CounterVec // class: access|refresh; outcome: success|failure
	RefreshRotations    *prometheus.CounterVec // outcome: rotated|stale|invalid
	SessionsRevoked     *prometheus.CounterVec // reason: logout|logout_all|password_change|sweep
	ActiveSessionsGauge prometheus.Gauge

	// Tenant isolation metrics
	ScopeFailClosedTotal prometheus.Counter

	// Quota metrics
	QuotaDecisionsTotal *prometheus.CounterVec // tier: anonymous|authenticated|strict; outcome: allowed|denied|error

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bzr_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bzr_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bzr_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		TokenVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bzr_token_verifications_total",
				Help: "Token verifications by token class and outcome",
			},
			[]string{"class", "outcome"},
		),
		RefreshRotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bzr_refresh_rotations_total",
				Help: "Refresh token rotation attempts by outcome",
			},
			[]string{"outcome"},
		),
		SessionsRevoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bzr_sessions_revoked_total",
				Help: "Revoked refresh sessions by reason",
			},
			[]string{"reason"},
		),
		ActiveSessionsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bzr_active_sessions",
				Help: "Refresh sessions currently live in the registry",
			},
		),
		ScopeFailClosedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bzr_scope_fail_closed_total",
				Help: "Tenant scope computations that failed closed (misconfigured credential)",
			},
		),
		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bzr_quota_decisions_total",
				Help: "Rate limit decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bzr_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bzr_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.TokenVerifications,
		m.RefreshRotations,
		m.SessionsRevoked,
		m.ActiveSessionsGauge,
		m.ScopeFailClosedTotal,
		m.QuotaDecisionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler for the given registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for HTTP metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
