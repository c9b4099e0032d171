// Package monitoring exposes the Prometheus metrics surface: HTTP request
// counters/latency, Sticky Tracker stats, credential failures, and upstream
// call latency.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kiro_gateway_http_in_flight_requests",
		Help: "Number of HTTP requests currently being served.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiro_gateway_http_requests_total",
		Help: "Total HTTP requests by route and status class.",
	}, []string{"route", "status_class"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kiro_gateway_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	StickyHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sticky_hits_total",
		Help: "Sticky binding reuse count.",
	})
	StickyAssignments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sticky_assignments_total",
		Help: "New sticky binding assignments.",
	})
	StickyQueueJumps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sticky_queue_jumps_total",
		Help: "Per-key queue-jump reservations on a saturated credential.",
	})
	StickyRejections429 = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sticky_rejections_429_total",
		Help: "Requests rejected with 429 because every credential was full.",
	})
	StickyUnbinds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sticky_unbinds_total",
		Help: "Sticky bindings dropped (credential removed or saturated).",
	})
	StickyZombiesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sticky_zombies_reaped_total",
		Help: "Active streams reclaimed by the zombie sweeper.",
	})

	CredentialFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiro_gateway_credential_failures_total",
		Help: "Upstream call failures recorded against a credential.",
	}, []string{"credential_id"})
	CredentialDisabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kiro_gateway_credential_disabled",
		Help: "1 if the credential is currently disabled.",
	}, []string{"credential_id"})

	UpstreamLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kiro_gateway_upstream_latency_seconds",
		Help:    "Time to first byte from the upstream Kiro provider.",
		Buckets: prometheus.DefBuckets,
	})

	SSEPingsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiro_gateway_sse_pings_total",
		Help: "Keep-alive ping events emitted to streaming clients.",
	})
)

// ObserveHTTP records one completed request's route/status/latency.
func ObserveHTTP(route string, status int, start time.Time) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	HTTPRequestsTotal.WithLabelValues(route, class).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
