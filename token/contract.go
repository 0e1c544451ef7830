package token

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"loyaltysdk/crypto"
)

// Backend is the subset of the Ethereum JSON-RPC API the contract proxy
// depends on. *ethclient.Client satisfies it.
type Backend interface {
	ReceiptBackend
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ContractConfig binds a proxy to one deployed contract and one signer.
type ContractConfig struct {
	Address common.Address
	ChainID *big.Int
	// GasLimit skips estimation when non-zero.
	GasLimit uint64
}

// Contract is the proxy for one deployed loyalty token. Reads return the
// current remote value; writes sign with the bound key and return a
// PendingTx. The key, address and chain id never change after construction.
type Contract struct {
	address  common.Address
	abi      abi.ABI
	backend  Backend
	key      *crypto.PrivateKey
	from     common.Address
	signer   types.Signer
	gasLimit uint64
	tracker  *Tracker
	logger   *slog.Logger

	// sendMu serialises nonce allocation and broadcast only.
	sendMu     sync.Mutex
	nextNonce  uint64
	nonceKnown bool
}

// NewContract binds the proxy. tracker follows the transactions it submits.
func NewContract(backend Backend, key *crypto.PrivateKey, cfg ContractConfig, tracker *Tracker, logger *slog.Logger) (*Contract, error) {
	if backend == nil {
		return nil, errors.New("token: backend required")
	}
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("token: signing key required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("token: chain id required")
	}
	if tracker == nil {
		return nil, errors.New("token: tracker required")
	}
	parsed, err := ParsedABI()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Contract{
		address:  cfg.Address,
		abi:      parsed,
		backend:  backend,
		key:      key,
		from:     key.Address(),
		signer:   types.LatestSignerForChainID(new(big.Int).Set(cfg.ChainID)),
		gasLimit: cfg.GasLimit,
		tracker:  tracker,
		logger:   logger,
	}, nil
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address { return c.address }

// From returns the signer's account.
func (c *Contract) From() common.Address { return c.from }

// ReadBalance returns balanceOf(account).
func (c *Contract) ReadBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.callUint(ctx, MethodBalanceOf, account)
}

// ReadAllowance returns allowance(owner, spender).
func (c *Contract) ReadAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, MethodAllowance, owner, spender)
}

// ReadTotalSupply returns totalSupply().
func (c *Contract) ReadTotalSupply(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, MethodTotalSupply)
}

// ReadOwner returns owner().
func (c *Contract) ReadOwner(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, MethodOwner)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("token: %s: unexpected result type %T", MethodOwner, out[0])
	}
	return owner, nil
}

// ReadName returns name().
func (c *Contract) ReadName(ctx context.Context) (string, error) {
	return c.callString(ctx, MethodName)
}

// ReadSymbol returns symbol().
func (c *Contract) ReadSymbol(ctx context.Context) (string, error) {
	return c.callString(ctx, MethodSymbol)
}

// ReadDecimals returns decimals().
func (c *Contract) ReadDecimals(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, MethodDecimals)
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("token: %s: unexpected result type %T", MethodDecimals, out[0])
	}
	return decimals, nil
}

// SubmitTransfer broadcasts transfer(to, amount) without waiting for it.
func (c *Contract) SubmitTransfer(ctx context.Context, to common.Address, amount *big.Int) (*PendingTx, error) {
	return c.submit(ctx, MethodTransfer, to, amount)
}

// SubmitApprove broadcasts approve(spender, amount).
func (c *Contract) SubmitApprove(ctx context.Context, spender common.Address, amount *big.Int) (*PendingTx, error) {
	return c.submit(ctx, MethodApprove, spender, amount)
}

// SubmitIncreaseAllowance broadcasts increaseAllowance(spender, amount).
func (c *Contract) SubmitIncreaseAllowance(ctx context.Context, spender common.Address, amount *big.Int) (*PendingTx, error) {
	return c.submit(ctx, MethodIncreaseAllowance, spender, amount)
}

// SubmitDecreaseAllowance broadcasts decreaseAllowance(spender, amount).
func (c *Contract) SubmitDecreaseAllowance(ctx context.Context, spender common.Address, amount *big.Int) (*PendingTx, error) {
	return c.submit(ctx, MethodDecreaseAllowance, spender, amount)
}

// SubmitTransferFrom broadcasts transferFrom(from, to, amount), spending the
// signer's allowance from from.
func (c *Contract) SubmitTransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (*PendingTx, error) {
	return c.submit(ctx, MethodTransferFrom, from, to, amount)
}

// SubmitTransferOwnership broadcasts transferOwnership(newOwner).
func (c *Contract) SubmitTransferOwnership(ctx context.Context, newOwner common.Address) (*PendingTx, error) {
	return c.submit(ctx, MethodTransferOwnership, newOwner)
}

// SubmitMint broadcasts mint(amount); only the contract owner can mint.
func (c *Contract) SubmitMint(ctx context.Context, amount *big.Int) (*PendingTx, error) {
	return c.submit(ctx, MethodMint, amount)
}

func (c *Contract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("token: %s: unexpected result type %T", method, out[0])
	}
	return value, nil
}

func (c *Contract) callString(ctx context.Context, method string) (string, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return "", err
	}
	value, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("token: %s: unexpected result type %T", method, out[0])
	}
	return value, nil
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("token: pack %s: %w", method, err)
	}
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.address, Data: data}, nil)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, &ChainRevertError{Method: method, Reason: reason}
		}
		return nil, transportError("call "+method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("token: %s returned no data; is %s a deployed contract?", method, c.address.Hex())
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("token: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("token: %s returned no values", method)
	}
	return out, nil
}

func (c *Contract) submit(ctx context.Context, method string, args ...interface{}) (*PendingTx, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("token: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: c.from, To: &c.address, Data: data}
	gasLimit := c.gasLimit
	if gasLimit == 0 {
		estimated, err := c.backend.EstimateGas(ctx, msg)
		if err != nil {
			if reason, ok := revertReason(err); ok {
				return nil, &ChainRevertError{Method: method, Reason: reason}
			}
			return nil, transportError("estimate gas for "+method, err)
		}
		gasLimit = estimated
	}
	msg.Gas = gasLimit

	tx, err := c.signAndSend(ctx, method, gasLimit, data)
	if err != nil {
		return nil, err
	}
	c.logger.Info("transaction submitted",
		slog.String("method", method),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
		slog.Uint64("gas", gasLimit))
	return c.tracker.Track(method, tx.Hash(), msg), nil
}

func (c *Contract) signAndSend(ctx context.Context, method string, gasLimit uint64, data []byte) (*types.Transaction, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.allocateNonce(ctx)
	if err != nil {
		return nil, err
	}
	txData, err := c.feeFields(ctx, nonce, gasLimit, data)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(types.NewTx(txData), c.signer, c.key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("token: sign %s: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		// The node's view of the nonce is authoritative after a failed send.
		c.nonceKnown = false
		if reason, ok := revertReason(err); ok {
			return nil, &ChainRevertError{Method: method, Reason: reason}
		}
		return nil, transportError("send "+method, err)
	}
	c.nextNonce = nonce + 1
	c.nonceKnown = true
	return signed, nil
}

func (c *Contract) allocateNonce(ctx context.Context) (uint64, error) {
	pending, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return 0, transportError("pending nonce", err)
	}
	if c.nonceKnown && c.nextNonce > pending {
		return c.nextNonce, nil
	}
	return pending, nil
}

func (c *Contract) feeFields(ctx context.Context, nonce, gasLimit uint64, data []byte) (types.TxData, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, transportError("latest header", err)
	}
	to := c.address
	if head != nil && head.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, transportError("suggest gas tip", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return &types.DynamicFeeTx{
			ChainID:   c.signer.ChainID(),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		}, nil
	}
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, transportError("suggest gas price", err)
	}
	return &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gasLimit,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	}, nil
}

// revertReason extracts the contract's reason from an RPC error, decoding
// Error(string) revert data when the node supplies it.
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := decodeRevertData(dataErr.ErrorData()); ok {
			return reason, true
		}
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	idx := strings.Index(lower, "execution reverted")
	if idx < 0 {
		// Ganache and older Hardhat nodes.
		if strings.HasPrefix(lower, "vm exception while processing transaction: revert") {
			return msg, true
		}
		return "", false
	}
	reason := strings.TrimSpace(msg[idx+len("execution reverted"):])
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	if reason == "" {
		reason = "execution reverted"
	}
	return reason, true
}

func decodeRevertData(data interface{}) (string, bool) {
	var raw []byte
	switch v := data.(type) {
	case string:
		decoded, err := hexutil.Decode(v)
		if err != nil {
			decoded, err = hex.DecodeString(strings.TrimPrefix(v, "0x"))
			if err != nil {
				return "", false
			}
		}
		raw = decoded
	case []byte:
		raw = v
	case hexutil.Bytes:
		raw = v
	default:
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}
