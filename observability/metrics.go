package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tokenClientOnce     sync.Once
	tokenClientRegistry *TokenClientMetrics
)

// TokenClientMetrics wraps collectors tracking contract calls issued by the
// token client.
type TokenClientMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	confirmation *prometheus.HistogramVec
	rejections   *prometheus.CounterVec
}

// TokenClient exposes the lazily initialised metrics registry for the token
// client. Collectors are registered with the default prometheus registerer.
func TokenClient() *TokenClientMetrics {
	tokenClientOnce.Do(func() {
		tokenClientRegistry = &TokenClientMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "client",
				Name:      "operations_total",
				Help:      "Token client operations segmented by contract method and outcome.",
			}, []string{"method", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loyalty",
				Subsystem: "client",
				Name:      "operation_duration_seconds",
				Help:      "End-to-end latency of token client operations, confirmation included.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			confirmation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loyalty",
				Subsystem: "client",
				Name:      "confirmation_seconds",
				Help:      "Time between broadcast and finality of state-changing calls.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30, 60, 120, 300},
			}, []string{"method"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "client",
				Name:      "rejections_total",
				Help:      "Calls rejected locally before reaching the network, by validation kind.",
			}, []string{"method", "kind"}),
		}
		prometheus.MustRegister(
			tokenClientRegistry.operations,
			tokenClientRegistry.duration,
			tokenClientRegistry.confirmation,
			tokenClientRegistry.rejections,
		)
	})
	return tokenClientRegistry
}

// Observe records the outcome and latency of one operation.
func (m *TokenClientMetrics) Observe(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	method = label(method)
	m.operations.WithLabelValues(method, label(outcome)).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveConfirmation records how long a transaction took to finalise.
func (m *TokenClientMetrics) ObserveConfirmation(method string, d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.confirmation.WithLabelValues(label(method)).Observe(d.Seconds())
}

// RecordRejection increments the local validation rejection counter.
func (m *TokenClientMetrics) RecordRejection(method, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(method), label(kind)).Inc()
}

func label(value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return "unknown"
	}
	return value
}
