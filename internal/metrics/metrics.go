// Package metrics provides Prometheus metrics for the auth service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the auth service.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Account metrics
	LoginsTotal  *prometheus.CounterVec
	UsersCreated prometheus.Counter

	// Schema management metrics
	MigrationsApplied prometheus.Counter
	MigrationDuration prometheus.Histogram
	ElectionRounds    *prometheus.CounterVec

	// Storage metrics
	StoreErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Request metrics
	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authservices_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authservices_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "authservices_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Account metrics
	m.LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authservices_logins_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)

	m.UsersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authservices_users_created_total",
			Help: "Total number of users created",
		},
	)

	// Schema management metrics
	m.MigrationsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authservices_schema_migrations_applied_total",
			Help: "Total number of schema scripts applied by this node",
		},
	)

	// Schema changes wait on cluster agreement, so the upper buckets
	// reach well past the default 10s.
	m.MigrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "authservices_schema_migration_duration_seconds",
			Help:    "Schema script execution time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	m.ElectionRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authservices_schema_election_rounds_total",
			Help: "Total number of migration election rounds by outcome",
		},
		[]string{"outcome"},
	)

	// Storage metrics
	m.StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authservices_store_errors_total",
			Help: "Total number of storage errors by operation",
		},
		[]string{"operation"},
	)

	// Register all collectors
	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.LoginsTotal,
		m.UsersCreated,
		m.MigrationsApplied,
		m.MigrationDuration,
		m.ElectionRounds,
		m.StoreErrors,
	)

	// Also register the default collectors (go runtime, process info)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		// Normalize path for metrics (avoid high cardinality)
		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath replaces principal, session and setting path segments with
// placeholders to keep label cardinality bounded.
func normalizePath(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch parts[0] {
	case "users":
		switch len(parts) {
		case 2:
			return "/users/{principal}"
		case 3:
			if parts[2] == "requestpasswordreset" || parts[2] == "completepasswordreset" {
				return "/users/{principal}/" + parts[2]
			}
		}
	case "sessions":
		switch len(parts) {
		case 2:
			return "/sessions/{principal}"
		case 3:
			return "/sessions/{principal}/{sessionid}"
		}
	case "admin":
		if len(parts) == 5 && parts[1] == "orgs" && parts[3] == "settings" {
			return "/admin/orgs/{org}/settings/{setting}"
		}
		if len(parts) == 3 && parts[1] == "settings" {
			return "/admin/settings/{setting}"
		}
	}
	return path
}

// RecordLogin records a login attempt.
func (m *Metrics) RecordLogin(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordUserCreated records a completed signup.
func (m *Metrics) RecordUserCreated() {
	m.UsersCreated.Inc()
}

// RecordMigrationApplied records one successfully executed schema script.
func (m *Metrics) RecordMigrationApplied(elapsed time.Duration) {
	m.MigrationsApplied.Inc()
	m.MigrationDuration.Observe(elapsed.Seconds())
}

// RecordElectionRound records the outcome of one migration election round.
func (m *Metrics) RecordElectionRound(won bool) {
	outcome := "won"
	if !won {
		outcome = "lost"
	}
	m.ElectionRounds.WithLabelValues(outcome).Inc()
}

// RecordStoreError records a failed storage operation.
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrors.WithLabelValues(operation).Inc()
}
