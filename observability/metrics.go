package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics captures router operation outcomes.
type RouterMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	throttles  *prometheus.CounterVec
}

var (
	routerMetricsOnce sync.Once
	routerRegistry    *RouterMetrics
)

// Router returns the lazily-initialised router metrics registry.
func Router() *RouterMetrics {
	routerMetricsOnce.Do(func() {
		routerRegistry = &RouterMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lpvault",
				Subsystem: "router",
				Name:      "operations_total",
				Help:      "Total router operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lpvault",
				Subsystem: "router",
				Name:      "failures_total",
				Help:      "Router failures segmented by operation and error kind.",
			}, []string{"operation", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lpvault",
				Subsystem: "router",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for router operations including ledger commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lpvault",
				Subsystem: "routerd",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the per-client rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			routerRegistry.operations,
			routerRegistry.failures,
			routerRegistry.latency,
			routerRegistry.throttles,
		)
	})
	return routerRegistry
}

// Observe records the outcome of a router operation. An empty kind marks
// success.
func (m *RouterMetrics) Observe(operation, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.failures.WithLabelValues(operation, kind).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *RouterMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}
