package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	movements *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking confirmed token movements.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			movements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "events",
				Name:      "movements_total",
				Help:      "Count of confirmed token movements segmented by contract method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(eventRegistry.movements)
	})
	return eventRegistry
}

// RecordMovement counts a confirmed transfer, transferFrom or mint.
func (m *eventMetrics) RecordMovement(method string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(method)
	if normalized == "" {
		normalized = "unknown"
	}
	m.movements.WithLabelValues(normalized).Inc()
}
