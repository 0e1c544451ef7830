package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type GatewayMetrics struct {
	rateLimited   *prometheus.CounterVec
	authFailures  *prometheus.CounterVec
	tokenErrors   *prometheus.CounterVec
	inflightWrite prometheus.Gauge
}

var (
	gatewayOnce     sync.Once
	gatewayRegistry *GatewayMetrics
)

// Gateway returns the collectors shared by the HTTP gateway's middleware and
// handlers.
func Gateway() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "gateway",
				Name:      "rate_limited_total",
				Help:      "Requests refused by the rate limiter, by limit id.",
			}, []string{"limit"}),
			authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "gateway",
				Name:      "auth_failures_total",
				Help:      "Rejected bearer tokens by reason.",
			}, []string{"reason"}),
			tokenErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "gateway",
				Name:      "token_errors_total",
				Help:      "Token operation failures surfaced over HTTP, by operation and error class.",
			}, []string{"operation", "class"}),
			inflightWrite: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loyalty",
				Subsystem: "gateway",
				Name:      "inflight_transactions",
				Help:      "State-changing requests waiting for confirmation.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.rateLimited,
			gatewayRegistry.authFailures,
			gatewayRegistry.tokenErrors,
			gatewayRegistry.inflightWrite,
		)
	})
	return gatewayRegistry
}

func (m *GatewayMetrics) IncRateLimited(limit string) {
	if m == nil {
		return
	}
	if limit == "" {
		limit = "unknown"
	}
	m.rateLimited.WithLabelValues(limit).Inc()
}

func (m *GatewayMetrics) IncAuthFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *GatewayMetrics) IncTokenError(operation, class string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if class == "" {
		class = "unknown"
	}
	m.tokenErrors.WithLabelValues(operation, class).Inc()
}

// TrackWrite marks one state-changing request in flight; call the returned
// func when it completes.
func (m *GatewayMetrics) TrackWrite() func() {
	if m == nil {
		return func() {}
	}
	m.inflightWrite.Inc()
	return m.inflightWrite.Dec
}

// InitAuthReasons pre-creates the auth failure series so dashboards show zeros.
func (m *GatewayMetrics) InitAuthReasons(reasons ...string) {
	if m == nil {
		return
	}
	for _, reason := range reasons {
		m.authFailures.WithLabelValues(reason).Add(0)
	}
}
