// Package metrics exposes the proxy's Prometheus instrumentation: request
// counts by operation and outcome, and per-backend operation latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ldap_merge_proxy",
		Name:      "requests_total",
		Help:      "Merged client-facing operations, by operation and outcome.",
	}, []string{"operation", "outcome"})

	backendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ldap_merge_proxy",
		Name:      "backend_operation_seconds",
		Help:      "Per-backend operation latency, by operation and backend host.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "backend"})
)

func init() {
	prometheus.MustRegister(requestsTotal, backendLatency)
}

// IncRequest records one merged client-facing operation's outcome.
func IncRequest(operation, outcome string) {
	requestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveBackendLatency records how long one backend took to answer one
// fanned-out operation.
func ObserveBackendLatency(operation, backendHost string, d time.Duration) {
	backendLatency.WithLabelValues(operation, backendHost).Observe(d.Seconds())
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
