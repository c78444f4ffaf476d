// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by capability,
	// method, and HTTP status class ("2xx", "4xx", ...). Requests that
	// never resolve a route use capability "none".
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway.",
		},
		[]string{"capability", "method", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"capability"},
	)

	// ResponseCacheEvents counts response-cache activity by event
	// ("hit", "miss", "store").
	ResponseCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_response_cache_events_total",
			Help: "Response cache hits, misses, and stores.",
		},
		[]string{"event"},
	)

	// CredentialVerifications counts cryptographic credential checks by
	// outcome ("valid", "invalid", "cached").
	CredentialVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_credential_verifications_total",
			Help: "Credential cache and verification outcomes.",
		},
		[]string{"outcome"},
	)

	// RateLimitRejections counts requests rejected by the rate limiter,
	// labelled by key_type ("ip").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)

	// UpstreamErrors counts dispatch failures broken down by capability and
	// error type ("unreachable", "timeout", "circuit_open", "transport").
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Total upstream dispatch errors by type.",
		},
		[]string{"capability", "error_type"},
	)

	// CircuitBreakerState tracks per-capability circuit breaker state as a
	// gauge: 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per capability (0=closed 1=open 2=half_open).",
		},
		[]string{"capability"},
	)
)

// StatusClass renders an HTTP status code as its metric label ("2xx").
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "1xx"
	}
}
