package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrConfirmTimeout resolves a pending transaction that was not finalised
// within the configured confirmation timeout. The transaction may still land.
var ErrConfirmTimeout = errors.New("token: confirmation timeout")

// ReceiptBackend is the subset of the Ethereum RPC used to follow a
// submitted transaction until it is final.
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PendingTx is the single-shot result of a submitted state-changing call.
// It resolves exactly once, to a successful receipt or an error.
type PendingTx struct {
	method    string
	hash      common.Hash
	submitted time.Time

	once    sync.Once
	done    chan struct{}
	receipt *types.Receipt
	err     error
}

func newPendingTx(method string, hash common.Hash, submitted time.Time) *PendingTx {
	return &PendingTx{method: method, hash: hash, submitted: submitted, done: make(chan struct{})}
}

// Hash returns the transaction hash.
func (p *PendingTx) Hash() common.Hash { return p.hash }

// Method returns the contract method the transaction invokes.
func (p *PendingTx) Method() string { return p.method }

// Submitted returns the broadcast time.
func (p *PendingTx) Submitted() time.Time { return p.submitted }

// Done is closed once the transaction is confirmed or has failed.
func (p *PendingTx) Done() <-chan struct{} { return p.done }

// Wait blocks until the transaction resolves or ctx is done. Abandoning the
// wait does not withdraw the transaction.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	select {
	case <-p.done:
		return p.receipt, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PendingTx) resolve(receipt *types.Receipt, err error) {
	p.once.Do(func() {
		p.receipt = receipt
		p.err = err
		close(p.done)
	})
}

// TrackerConfig controls how submitted transactions are followed.
type TrackerConfig struct {
	// Confirmations is the block depth required, counting the inclusion block.
	Confirmations uint64
	PollInterval  time.Duration
	// Timeout bounds the wait per transaction. Zero selects
	// DefaultConfirmTimeout.
	Timeout time.Duration
}

// DefaultConfirmTimeout bounds how long an unmined transaction is polled
// when no timeout is configured.
const DefaultConfirmTimeout = 10 * time.Minute

const (
	defaultConfirmations = 1
	defaultPollInterval  = time.Second
)

// Tracker follows submitted transactions to finality. Each tracked
// transaction has its own goroutine; trackers never block one another.
type Tracker struct {
	backend ReceiptBackend
	cfg     TrackerConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTracker builds a tracker over the supplied backend.
func NewTracker(backend ReceiptBackend, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = defaultConfirmations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfirmTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{backend: backend, cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Track starts following hash and returns its pending handle. call is the
// message that produced the transaction; it is replayed to recover the
// revert reason when the receipt reports failure.
func (t *Tracker) Track(method string, hash common.Hash, call ethereum.CallMsg) *PendingTx {
	pending := newPendingTx(method, hash, time.Now())
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		pending.resolve(nil, ErrClientClosed)
		return pending
	}
	t.wg.Add(1)
	t.mu.Unlock()
	go func() {
		defer t.wg.Done()
		receipt, err := t.watch(pending, call)
		pending.resolve(receipt, err)
	}()
	return pending
}

// Close stops every tracker goroutine. Unresolved transactions fail with
// ErrClientClosed.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.cancel()
	t.mu.Unlock()
	t.wg.Wait()
}

// Timeout reports the effective per-transaction confirmation bound.
func (t *Tracker) Timeout() time.Duration { return t.cfg.Timeout }

func (t *Tracker) watch(pending *PendingTx, call ethereum.CallMsg) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.Timeout)
	defer cancel()
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, pending.hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, t.revertError(ctx, pending, receipt, call)
			}
			final, err := t.final(ctx, receipt)
			if err != nil {
				return nil, t.interrupted(pending, err)
			}
			if final {
				return receipt, nil
			}
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, t.interrupted(pending, err)
		}

		select {
		case <-ctx.Done():
			return nil, t.interrupted(pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// final reports whether the receipt is buried under enough blocks.
func (t *Tracker) final(ctx context.Context, receipt *types.Receipt) (bool, error) {
	if t.cfg.Confirmations <= 1 {
		return true, nil
	}
	header, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, err
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return false, fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return false, nil
	}
	depth := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	depth.Add(depth, big.NewInt(1))
	return depth.Cmp(new(big.Int).SetUint64(t.cfg.Confirmations)) >= 0, nil
}

func (t *Tracker) interrupted(pending *PendingTx, err error) error {
	switch {
	case t.ctx.Err() != nil:
		return ErrClientClosed
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s %s after %s", ErrConfirmTimeout, pending.method, pending.hash.Hex(), t.cfg.Timeout)
	default:
		return transportError("await "+pending.method, err)
	}
}

// revertError replays the failed call against the parent block to recover
// the reason string.
func (t *Tracker) revertError(ctx context.Context, pending *PendingTx, receipt *types.Receipt, call ethereum.CallMsg) error {
	revert := &ChainRevertError{Method: pending.method, TxHash: pending.hash}
	var parent *big.Int
	if receipt.BlockNumber != nil && receipt.BlockNumber.Sign() > 0 {
		parent = new(big.Int).Sub(receipt.BlockNumber, big.NewInt(1))
	}
	if _, err := t.backend.CallContract(ctx, call, parent); err != nil {
		if reason, ok := revertReason(err); ok {
			revert.Reason = reason
		}
	}
	t.logger.Warn("transaction reverted",
		slog.String("method", pending.method),
		slog.String("tx", pending.hash.Hex()),
		slog.String("reason", revert.Reason))
	return revert
}
