// Package telemetry provides application-level observability for DecisionRecords.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<DR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped by a Prometheus server every 15–60 seconds.
// It is NOT served by the Gin router, so it never passes through the auth or
// rate-limiting middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Login attempt counters by provider and outcome
//   - Bearer token validation counters by issuer and outcome
//   - Policy denial counters by gate
//   - JWKS cache refresh counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /auth/google/callback)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// HTTPRequestDuration is a HistogramVec with labels {method, path} and
// exponential-ish buckets from 5 ms to 30 s.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authentication metrics.
//
// LoginAttemptsTotal is a CounterVec with labels {provider, outcome}.
// Provider is one of "google", "slack", "sso", "passkey", "master", "api_key";
// outcome is "success" or "failure".  A spike in failures for a single provider
// usually points at a misconfigured client secret or an attacker probing logins.
//
// Example PromQL queries:
//   - Failure ratio by provider: sum by (provider) (rate(login_attempts_total{outcome="failure"}[15m]))
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "login_attempts_total",
		Help: "Total number of login attempts, by identity provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// Bearer token validation metrics.
//
// BearerValidationsTotal is a CounterVec with labels {issuer, outcome}.
// Issuer is "bot_framework" or "access"; outcome is "success" or one of the
// coarse failure classes ("no_key", "bad_signature", "bad_audience",
// "bad_issuer", "expired", "fetch_error").  Failure classes are deliberately
// coarse — they feed dashboards, not responses, so they cannot become an
// oracle for callers.
var BearerValidationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bearer_validations_total",
		Help: "Total number of inbound bearer token validations, by issuer and outcome.",
	},
	[]string{"issuer", "outcome"},
)

// JWKSRefreshesTotal is a CounterVec with labels {issuer, outcome} incremented
// each time a key set is fetched over the network (outcome "success"/"failure").
// Cache hits are not counted.  An alert on sustained failures catches an
// unreachable key endpoint before tokens start expiring out of the cache.
var JWKSRefreshesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jwks_refreshes_total",
		Help: "Total number of JWKS network fetches, by issuer and outcome.",
	},
	[]string{"issuer", "outcome"},
)

// Policy metrics.
//
// PolicyDenialsTotal is a CounterVec with label {gate} incremented whenever the
// policy resolver rejects an operation.  Gate names match the reason strings
// returned to callers ("system_flag", "tenant_flag", "user_flag", "role",
// "maturity", "master_forbidden").
var PolicyDenialsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "policy_denials_total",
		Help: "Total number of operations denied by the policy resolver, by gate.",
	},
	[]string{"gate"},
)

// TenantMaturityTransitionsTotal is a plain Counter incremented once per actual
// tenant maturity state change (bootstrap→mature or the reverse).  The maturity
// updater only reports true transitions, so this counter never moves on no-op
// recomputations.
var TenantMaturityTransitionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tenant_maturity_transitions_total",
		Help: "Total number of tenant maturity state transitions persisted.",
	},
)

// APIKeysCleanedTotal counts expired API key rows deleted by the cleanup job.
var APIKeysCleanedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "api_keys_cleaned_total",
		Help: "Total number of long-expired API keys deleted by the cleanup job.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the DBOpenConnections
// gauge.  The goroutine exits when stop is closed.
//
// Call this once, immediately after the database connection succeeds in main.go.
func StartDBStatsCollector(db *sql.DB, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				DBOpenConnections.Set(float64(stats.OpenConnections))
			case <-stop:
				slog.Debug("db stats collector stopped")
				return
			}
		}
	}()
}
