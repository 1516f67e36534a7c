// Package metrics declares the Prometheus collectors for the sync layer.
//
// Collectors register with the default registry at init. The mcp command
// exposes them on /metrics when metrics.addr is configured; one-shot CLI
// commands record them but never serve them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics, labelled by entity family
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_cache_hits_total",
			Help: "Cache reads served from a fresh entry",
		},
		[]string{"family"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_cache_misses_total",
			Help: "Cache reads that required a fetch (absent, expired or invalidated entry)",
		},
		[]string{"family"},
	)

	CacheSharedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_cache_shared_fetches_total",
			Help: "Cache misses that joined an in-flight fetch instead of issuing a new one",
		},
		[]string{"family"},
	)

	CacheFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_cache_fetch_errors_total",
			Help: "Fetches that failed; the cache is left unchanged",
		},
		[]string{"family"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_cache_invalidations_total",
			Help: "Explicit invalidations (single key or whole store)",
		},
		[]string{"family", "scope"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookingsync_cache_entries",
			Help: "Entries currently held per family",
		},
		[]string{"family"},
	)

	// API client metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_api_requests_total",
			Help: "HTTP requests to the booking backend by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookingsync_api_request_duration_seconds",
			Help:    "Duration of HTTP requests to the booking backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookingsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Attendance writes by kind (mark, override) and outcome
	AttendanceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookingsync_attendance_writes_total",
			Help: "Attendance write attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// ObserveAPIRequest records one backend request.
func ObserveAPIRequest(method, outcome string, elapsed time.Duration) {
	APIRequests.WithLabelValues(method, outcome).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
