// Package tokentest provides an in-memory EVM JSON-RPC backend that executes
// the loyalty token's rules. It implements token.Backend so clients can be
// exercised end to end without a node.
package tokentest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"loyaltysdk/token"
)

// DefaultContract is the address the token is deployed at.
var DefaultContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// Option customises a Chain.
type Option func(*Chain)

// WithChainID overrides the default chain id 1337.
func WithChainID(id int64) Option {
	return func(c *Chain) { c.chainID = big.NewInt(id) }
}

// WithBaseFee makes the head header carry a base fee so clients build
// dynamic-fee transactions.
func WithBaseFee(fee *big.Int) Option {
	return func(c *Chain) { c.baseFee = new(big.Int).Set(fee) }
}

// WithReceiptDelay hides each receipt for n polls after mining.
func WithReceiptDelay(n int) Option {
	return func(c *Chain) { c.receiptDelay = n }
}

// WithEstimateBypass makes gas estimation succeed for calls that would
// revert, so the revert surfaces in the mined receipt instead.
func WithEstimateBypass() Option {
	return func(c *Chain) { c.estimateBypass = true }
}

// Chain is a single-contract chain that mines every accepted transaction
// into its own block.
type Chain struct {
	abi            abi.ABI
	chainID        *big.Int
	baseFee        *big.Int
	receiptDelay   int
	estimateBypass bool

	mu       sync.Mutex
	state    *ledger
	nonces   map[common.Address]uint64
	head     uint64
	receipts map[common.Hash]*types.Receipt
	hidden   map[common.Hash]int
	txs      []*types.Transaction
	calls    map[string]int
	failures map[string][]error
}

// New deploys the loyalty token with initialSupply credited to owner.
func New(owner common.Address, initialSupply *big.Int, opts ...Option) *Chain {
	parsed, err := token.ParsedABI()
	if err != nil {
		panic(err)
	}
	c := &Chain{
		abi:      parsed,
		chainID:  big.NewInt(1337),
		state:    newLedger(owner, initialSupply),
		nonces:   make(map[common.Address]uint64),
		head:     1,
		receipts: make(map[common.Hash]*types.Receipt),
		hidden:   make(map[common.Hash]int),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChainIDValue returns the configured chain id.
func (c *Chain) ChainIDValue() *big.Int { return new(big.Int).Set(c.chainID) }

// Calls returns the total number of RPC invocations received.
func (c *Chain) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.calls {
		total += n
	}
	return total
}

// CallsTo returns how often the named RPC (e.g. "SendTransaction") ran.
func (c *Chain) CallsTo(rpcMethod string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[rpcMethod]
}

// FailNext queues err as the next result of rpcMethod.
func (c *Chain) FailNext(rpcMethod string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[rpcMethod] = append(c.failures[rpcMethod], err)
}

// Mine advances the head by n empty blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += n
}

// Head returns the current block number.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Transactions returns every accepted transaction in mining order.
func (c *Chain) Transactions() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.txs...)
}

// BalanceOf reads a balance directly from state.
func (c *Chain) BalanceOf(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.state.balance(account))
}

// Owner reads the owner directly from state.
func (c *Chain) Owner() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.owner
}

func (c *Chain) enter(rpcMethod string) error {
	c.calls[rpcMethod]++
	if queued := c.failures[rpcMethod]; len(queued) > 0 {
		c.failures[rpcMethod] = queued[1:]
		return queued[0]
	}
	return nil
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ChainID"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CallContract"); err != nil {
		return nil, err
	}
	if call.To == nil || *call.To != DefaultContract {
		return nil, nil
	}
	out, _, err := c.execute(c.state.clone(), call.From, call.Data)
	return out, err
}

func (c *Chain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("EstimateGas"); err != nil {
		return 0, err
	}
	if _, _, err := c.execute(c.state.clone(), call.From, call.Data); err != nil && !c.estimateBypass {
		return 0, err
	}
	return 60_000, nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("PendingNonceAt"); err != nil {
		return 0, err
	}
	return c.nonces[account], nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("SuggestGasPrice"); err != nil {
		return nil, err
	}
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("SuggestGasTipCap"); err != nil {
		return nil, err
	}
	return big.NewInt(1_000_000_000), nil
}

func (c *Chain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("HeaderByNumber"); err != nil {
		return nil, err
	}
	header := &types.Header{Number: new(big.Int).SetUint64(c.head)}
	if c.baseFee != nil {
		header.BaseFee = new(big.Int).Set(c.baseFee)
	}
	return header, nil
}

func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("SendTransaction"); err != nil {
		return err
	}
	if tx.ChainId().Cmp(c.chainID) != 0 {
		return fmt.Errorf("invalid chain id: have %s want %s", tx.ChainId(), c.chainID)
	}
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	expected := c.nonces[from]
	switch {
	case tx.Nonce() < expected:
		return fmt.Errorf("nonce too low: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	case tx.Nonce() > expected:
		return fmt.Errorf("nonce too high: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), expected)
	}
	if tx.To() == nil || *tx.To() != DefaultContract {
		return errors.New("tokentest: only calls to the token contract are supported")
	}
	c.nonces[from] = expected + 1
	c.head++

	status := types.ReceiptStatusSuccessful
	working := c.state.clone()
	_, logs, execErr := c.execute(working, from, tx.Data())
	if execErr != nil {
		status = types.ReceiptStatusFailed
		logs = nil
	} else {
		c.state = working
	}
	blockNumber := new(big.Int).SetUint64(c.head)
	for i, log := range logs {
		log.TxHash = tx.Hash()
		log.BlockNumber = c.head
		log.Index = uint(i)
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: 50_000,
		GasUsed:           50_000,
		Logs:              logs,
		TxHash:            tx.Hash(),
		BlockNumber:       blockNumber,
	}
	if c.receiptDelay > 0 {
		c.hidden[tx.Hash()] = c.receiptDelay
	}
	c.txs = append(c.txs, tx)
	return nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TransactionReceipt"); err != nil {
		return nil, err
	}
	if remaining := c.hidden[txHash]; remaining > 0 {
		c.hidden[txHash] = remaining - 1
		return nil, ethereum.NotFound
	}
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	copied := *receipt
	return &copied, nil
}

var _ token.Backend = (*Chain)(nil)
