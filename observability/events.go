package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lpvault/core/events"
)

// EventMetrics counts committed ledger events.
type EventMetrics struct {
	committed *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking committed ledger events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lpvault",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.committed)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *EventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.committed.WithLabelValues(normalized).Inc()
}

// Emit counts evt. EventMetrics can be attached to the ledger as an emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	m.RecordEvent(evt.EventType())
}
