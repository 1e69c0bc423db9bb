package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guild_rewards",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guild_rewards",
			Subsystem: "claims",
			Name:      "total",
			Help:      "Claim attempts by unit kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	ledgerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guild_rewards",
			Subsystem: "ledger",
			Name:      "requests_total",
			Help:      "Calls to the external token ledger.",
		},
		[]string{"op", "result"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guild_rewards",
			Subsystem: "ledger",
			Name:      "request_duration_seconds",
			Help:      "Duration of calls to the external token ledger.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"op"},
	)

	reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guild_rewards",
			Subsystem: "reconcile",
			Name:      "intents_total",
			Help:      "Pending claim intents processed by the reconciler.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		claims,
		ledgerRequests,
		ledgerDuration,
		reconciled,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest counts one handled request.
func RecordHTTPRequest(method, route, status string) {
	httpRequests.WithLabelValues(method, route, status).Inc()
}

// RecordClaim counts one claim attempt.
func RecordClaim(kind, result string) {
	claims.WithLabelValues(kind, result).Inc()
}

// RecordLedgerCall counts and times one ledger call.
func RecordLedgerCall(op, result string, elapsed time.Duration) {
	ledgerRequests.WithLabelValues(op, result).Inc()
	ledgerDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordReconcile counts one reconciled intent.
func RecordReconcile(result string) {
	reconciled.WithLabelValues(result).Inc()
}
