package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyaltysdk/crypto"
	"loyaltysdk/observability"
)

const tracerName = "loyaltysdk/token"

// Info bundles the token's descriptive reads.
type Info struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
	Owner       string `json:"owner"`
}

// Client acts for one account against one deployed loyalty token. Every
// operation validates its inputs before touching the network; state-changing
// operations return once the transaction is confirmed. Calls are independent
// and safe for concurrent use.
type Client struct {
	contract *Contract
	tracker  *Tracker
	logger   *slog.Logger
	metrics  *observability.TokenClientMetrics
	tracer   trace.Tracer

	closed       atomic.Bool
	closeOnce    sync.Once
	closeBackend func()
}

// New binds a client to contractAddress on backend, signing with key. The
// chain id is read from the backend unless WithChainID is supplied.
func New(ctx context.Context, backend Backend, key *crypto.PrivateKey, contractAddress string, opts ...Option) (*Client, error) {
	if err := ValidateAddress("contract", contractAddress); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("token: backend required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.TokenClient()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	chainID := o.chainID
	if chainID == nil {
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, transportError("chain id", err)
		}
		chainID = id
	}
	logger := o.logger.With(slog.String("component", "token"), slog.String("contract", common.HexToAddress(contractAddress).Hex()))
	tracker := NewTracker(backend, o.tracker, logger)
	contract, err := NewContract(backend, key, ContractConfig{
		Address:  common.HexToAddress(contractAddress),
		ChainID:  chainID,
		GasLimit: o.gasLimit,
	}, tracker, logger)
	if err != nil {
		tracker.Close()
		return nil, err
	}
	return &Client{
		contract:     contract,
		tracker:      tracker,
		logger:       logger,
		metrics:      o.metrics,
		tracer:       o.tracer,
		closeBackend: o.closeBackend,
	}, nil
}

// Close stops following outstanding transactions and releases the backend
// when the client owns it. Broadcast transactions are not withdrawn.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.tracker.Close()
		if c.closeBackend != nil {
			c.closeBackend()
		}
	})
}

// Contract exposes the underlying proxy for callers that want the pending
// handle of a submission instead of waiting on it.
func (c *Client) Contract() *Contract { return c.contract }

// Account returns the signer's checksummed address.
func (c *Client) Account() string { return c.contract.From().Hex() }

// GetBalance returns balanceOf(account) as a decimal string.
func (c *Client) GetBalance(ctx context.Context, account string) (string, error) {
	var balance string
	err := c.observe(ctx, MethodBalanceOf, func(ctx context.Context) error {
		if err := ValidateAddress("account", account); err != nil {
			return err
		}
		value, err := c.contract.ReadBalance(ctx, common.HexToAddress(account))
		if err != nil {
			return err
		}
		balance = value.String()
		return nil
	})
	return balance, err
}

// Allowance returns allowance(owner, spender) as a decimal string.
func (c *Client) Allowance(ctx context.Context, owner, spender string) (string, error) {
	var allowance string
	err := c.observe(ctx, MethodAllowance, func(ctx context.Context) error {
		if err := ValidateAddress("owner", owner); err != nil {
			return err
		}
		if err := ValidateAddress("spender", spender); err != nil {
			return err
		}
		value, err := c.contract.ReadAllowance(ctx, common.HexToAddress(owner), common.HexToAddress(spender))
		if err != nil {
			return err
		}
		allowance = value.String()
		return nil
	})
	return allowance, err
}

// Owner returns the contract owner's checksummed address.
func (c *Client) Owner(ctx context.Context) (string, error) {
	var owner string
	err := c.observe(ctx, MethodOwner, func(ctx context.Context) error {
		value, err := c.contract.ReadOwner(ctx)
		if err != nil {
			return err
		}
		owner = value.Hex()
		return nil
	})
	return owner, err
}

// TotalSupply returns totalSupply() as a decimal string.
func (c *Client) TotalSupply(ctx context.Context) (string, error) {
	var supply string
	err := c.observe(ctx, MethodTotalSupply, func(ctx context.Context) error {
		value, err := c.contract.ReadTotalSupply(ctx)
		if err != nil {
			return err
		}
		supply = value.String()
		return nil
	})
	return supply, err
}

// Name returns the token's name.
func (c *Client) Name(ctx context.Context) (string, error) {
	var name string
	err := c.observe(ctx, MethodName, func(ctx context.Context) error {
		var err error
		name, err = c.contract.ReadName(ctx)
		return err
	})
	return name, err
}

// Symbol returns the token's ticker symbol.
func (c *Client) Symbol(ctx context.Context) (string, error) {
	var symbol string
	err := c.observe(ctx, MethodSymbol, func(ctx context.Context) error {
		var err error
		symbol, err = c.contract.ReadSymbol(ctx)
		return err
	})
	return symbol, err
}

// Decimals returns the number of decimals used for display. Amounts on
// the wire are always in base units.
func (c *Client) Decimals(ctx context.Context) (uint8, error) {
	var decimals uint8
	err := c.observe(ctx, MethodDecimals, func(ctx context.Context) error {
		var err error
		decimals, err = c.contract.ReadDecimals(ctx)
		return err
	})
	return decimals, err
}

// Info reads the token's descriptive fields. The reads are not atomic with
// respect to each other.
func (c *Client) Info(ctx context.Context) (Info, error) {
	info := Info{Address: c.contract.Address().Hex()}
	var err error
	if info.Name, err = c.Name(ctx); err != nil {
		return Info{}, err
	}
	if info.Symbol, err = c.Symbol(ctx); err != nil {
		return Info{}, err
	}
	if info.Decimals, err = c.Decimals(ctx); err != nil {
		return Info{}, err
	}
	if info.TotalSupply, err = c.TotalSupply(ctx); err != nil {
		return Info{}, err
	}
	if info.Owner, err = c.Owner(ctx); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Transfer moves amount from the signer to to. The zero address is rejected
// locally.
func (c *Client) Transfer(ctx context.Context, to string, amount *big.Int) error {
	return c.observe(ctx, MethodTransfer, func(ctx context.Context) error {
		if err := validateRecipient("recipient", to); err != nil {
			return err
		}
		if err := ValidateAmount("amount", amount); err != nil {
			return err
		}
		pending, err := c.contract.SubmitTransfer(ctx, common.HexToAddress(to), amount)
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, true)
	})
}

// Approve sets the spender's allowance over the signer's balance to amount.
func (c *Client) Approve(ctx context.Context, spender string, amount *big.Int) error {
	return c.observe(ctx, MethodApprove, func(ctx context.Context) error {
		if err := ValidateAddress("spender", spender); err != nil {
			return err
		}
		if err := ValidateAmount("amount", amount); err != nil {
			return err
		}
		pending, err := c.contract.SubmitApprove(ctx, common.HexToAddress(spender), amount)
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, false)
	})
}

// IncreaseAllowance adds amount to the spender's allowance.
func (c *Client) IncreaseAllowance(ctx context.Context, spender string, amount *big.Int) error {
	return c.observe(ctx, MethodIncreaseAllowance, func(ctx context.Context) error {
		if err := ValidateAddress("spender", spender); err != nil {
			return err
		}
		if err := ValidateAmount("amount", amount); err != nil {
			return err
		}
		pending, err := c.contract.SubmitIncreaseAllowance(ctx, common.HexToAddress(spender), amount)
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, false)
	})
}

// DecreaseAllowance subtracts amount from the spender's allowance. Going
// below zero is left to the contract, which reverts.
func (c *Client) DecreaseAllowance(ctx context.Context, spender string, amount *big.Int) error {
	return c.observe(ctx, MethodDecreaseAllowance, func(ctx context.Context) error {
		if err := ValidateAddress("spender", spender); err != nil {
			return err
		}
		if err := ValidateAmount("amount", amount); err != nil {
			return err
		}
		pending, err := c.contract.SubmitDecreaseAllowance(ctx, common.HexToAddress(spender), amount)
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, false)
	})
}

// TransferFrom moves amount from from to to against the signer's allowance.
func (c *Client) TransferFrom(ctx context.Context, from, to string, amount *big.Int) error {
	return c.observe(ctx, MethodTransferFrom, func(ctx context.Context) error {
		if err := ValidateAddress("from", from); err != nil {
			return err
		}
		if err := ValidateAddress("recipient", to); err != nil {
			return err
		}
		if err := ValidateAmount("amount", amount); err != nil {
			return err
		}
		pending, err := c.contract.SubmitTransferFrom(ctx, common.HexToAddress(from), common.HexToAddress(to), amount)
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, true)
	})
}

// TransferOwnership hands the contract to newOwner. Only the current owner
// can do this; anyone else gets a ChainRevertError.
func (c *Client) TransferOwnership(ctx context.Context, newOwner string) error {
	return c.observe(ctx, MethodTransferOwnership, func(ctx context.Context) error {
		if err := ValidateAddress("new owner", newOwner); err != nil {
			return err
		}
		pending, err := c.contract.SubmitTransferOwnership(ctx, common.HexToAddress(newOwner))
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, false)
	})
}

// Mint creates amount new tokens for the owner. Owner only.
func (c *Client) Mint(ctx context.Context, amount *big.Int) error {
	return c.observe(ctx, MethodMint, func(ctx context.Context) error {
		if err := ValidateAmount("amount", amount); err != nil {
			return err
		}
		pending, err := c.contract.SubmitMint(ctx, amount)
		if err != nil {
			return err
		}
		return c.wait(ctx, pending, true)
	})
}

// wait blocks until the submission finalises. moves marks calls that move
// tokens between accounts.
func (c *Client) wait(ctx context.Context, pending *PendingTx, moves bool) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tx.hash", pending.Hash().Hex()))
	receipt, err := pending.Wait(ctx)
	if err != nil {
		return err
	}
	c.metrics.ObserveConfirmation(pending.Method(), time.Since(pending.Submitted()))
	if moves {
		observability.Events().RecordMovement(pending.Method())
	}
	attrs := []any{slog.String("method", pending.Method()), slog.String("tx", pending.Hash().Hex())}
	if receipt != nil && receipt.BlockNumber != nil {
		attrs = append(attrs, slog.String("block", receipt.BlockNumber.String()))
	}
	c.logger.Info("transaction confirmed", attrs...)
	return nil
}

func (c *Client) observe(ctx context.Context, method string, fn func(context.Context) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	ctx, span := c.tracer.Start(ctx, "token."+method, trace.WithAttributes(
		attribute.String("token.method", method),
		attribute.String("token.contract", c.contract.Address().Hex()),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	kind := outcome(err)
	c.metrics.Observe(method, kind, time.Since(start))
	if err != nil {
		if IsValidation(err) {
			c.metrics.RecordRejection(method, kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrZeroAddressRecipient):
		return "zero_address"
	case errors.Is(err, ErrChainRevert):
		return "revert"
	case errors.Is(err, ErrConfirmTimeout):
		return "timeout"
	case errors.Is(err, ErrClientClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "error"
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("token.Client(%s as %s)", c.contract.Address().Hex(), c.contract.From().Hex())
}
