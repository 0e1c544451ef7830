package token

import (
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel/trace"

	"loyaltysdk/observability"
)

type options struct {
	logger       *slog.Logger
	metrics      *observability.TokenClientMetrics
	tracer       trace.Tracer
	chainID      *big.Int
	gasLimit     uint64
	tracker      TrackerConfig
	closeBackend func()
}

// Option customises the client instance.
type Option func(*options)

// WithLogger overrides the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.TokenClientMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer overrides the tracer used for per-operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithChainID pins the chain id instead of asking the backend.
func WithChainID(id *big.Int) Option {
	return func(o *options) {
		if id != nil {
			o.chainID = new(big.Int).Set(id)
		}
	}
}

// WithGasLimit uses a fixed gas limit for every state-changing call and
// skips estimation.
func WithGasLimit(limit uint64) Option {
	return func(o *options) { o.gasLimit = limit }
}

// WithConfirmations sets the block depth a transaction must reach.
func WithConfirmations(n uint64) Option {
	return func(o *options) { o.tracker.Confirmations = n }
}

// WithPollInterval sets the receipt polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.tracker.PollInterval = d }
}

// WithConfirmTimeout bounds how long a transaction is followed.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) { o.tracker.Timeout = d }
}

func withBackendCloser(fn func()) Option {
	return func(o *options) { o.closeBackend = fn }
}
