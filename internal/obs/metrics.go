// Package obs exposes Prometheus metrics for the permission service.
package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	resolverDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_decisions_total",
			Help: "Visibility resolver outcomes by matched rule.",
		},
		[]string{"rule", "outcome"},
	)

	storeMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_mutations_total",
			Help: "Permission store mutations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

var registerOnce sync.Once

// Init registers the metrics with the default registry. Safe to call more
// than once (tests build several services per process).
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, resolverDecisions, storeMutations)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest records one finished HTTP request.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	httpRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// RecordDecision counts one resolver outcome. rule is the matched rule name
// ("forbidden"/"unauthenticated" for denials).
func RecordDecision(rule string, granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	resolverDecisions.WithLabelValues(rule, outcome).Inc()
}

// RecordMutation counts one store mutation attempt.
func RecordMutation(operation, outcome string) {
	storeMutations.WithLabelValues(operation, outcome).Inc()
}
