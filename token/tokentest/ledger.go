package tokentest

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"loyaltysdk/token"
)

const (
	TokenName     = "Loyalty Token"
	TokenSymbol   = "LOYAL"
	TokenDecimals = uint8(18)
)

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	transferTopic  = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	approvalTopic  = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	ownershipTopic = crypto.Keccak256Hash([]byte("OwnershipTransferred(address,address)"))

	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
)

// RevertError mimics the JSON-RPC error geth returns for a reverted call.
// It satisfies rpc.DataError.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

func (e *RevertError) ErrorCode() int { return 3 }

// ErrorData returns the ABI encoded Error(string) payload as hex.
func (e *RevertError) ErrorData() interface{} {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(e.Reason)
	if err != nil {
		return nil
	}
	return hexutil.Encode(append(append([]byte{}, errorSelector...), packed...))
}

func revert(reason string) error { return &RevertError{Reason: reason} }

// ledger is the token contract's storage.
type ledger struct {
	owner       common.Address
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
}

func newLedger(owner common.Address, initialSupply *big.Int) *ledger {
	l := &ledger{
		owner:       owner,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
	if initialSupply != nil && initialSupply.Sign() > 0 {
		l.totalSupply.Set(initialSupply)
		l.balances[owner] = new(big.Int).Set(initialSupply)
	}
	return l
}

func (l *ledger) clone() *ledger {
	out := &ledger{
		owner:       l.owner,
		totalSupply: new(big.Int).Set(l.totalSupply),
		balances:    make(map[common.Address]*big.Int, len(l.balances)),
		allowances:  make(map[common.Address]map[common.Address]*big.Int, len(l.allowances)),
	}
	for addr, bal := range l.balances {
		out.balances[addr] = new(big.Int).Set(bal)
	}
	for owner, spenders := range l.allowances {
		copied := make(map[common.Address]*big.Int, len(spenders))
		for spender, amount := range spenders {
			copied[spender] = new(big.Int).Set(amount)
		}
		out.allowances[owner] = copied
	}
	return out
}

func (l *ledger) balance(account common.Address) *big.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}

func (l *ledger) allowance(owner, spender common.Address) *big.Int {
	if amount, ok := l.allowances[owner][spender]; ok {
		return amount
	}
	return new(big.Int)
}

func (l *ledger) transfer(from, to common.Address, amount *big.Int) ([]*types.Log, error) {
	if from == (common.Address{}) {
		return nil, revert("ERC20: transfer from the zero address")
	}
	if to == (common.Address{}) {
		return nil, revert("ERC20: transfer to the zero address")
	}
	fromBalance := l.balance(from)
	if fromBalance.Cmp(amount) < 0 {
		return nil, revert("ERC20: transfer amount exceeds balance")
	}
	l.balances[from] = new(big.Int).Sub(fromBalance, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return []*types.Log{transferLog(from, to, amount)}, nil
}

func (l *ledger) approve(owner, spender common.Address, amount *big.Int) ([]*types.Log, error) {
	if owner == (common.Address{}) {
		return nil, revert("ERC20: approve from the zero address")
	}
	if spender == (common.Address{}) {
		return nil, revert("ERC20: approve to the zero address")
	}
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return []*types.Log{{
		Address: DefaultContract,
		Topics:  []common.Hash{approvalTopic, common.BytesToHash(owner.Bytes()), common.BytesToHash(spender.Bytes())},
		Data:    common.LeftPadBytes(amount.Bytes(), 32),
	}}, nil
}

func (l *ledger) spendAllowance(owner, spender common.Address, amount *big.Int) error {
	current := l.allowance(owner, spender)
	if current.Cmp(maxUint256) == 0 {
		return nil
	}
	if current.Cmp(amount) < 0 {
		return revert("ERC20: insufficient allowance")
	}
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Sub(current, amount)
	return nil
}

func (l *ledger) onlyOwner(caller common.Address) error {
	if caller != l.owner {
		return revert("Ownable: caller is not the owner")
	}
	return nil
}

func transferLog(from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: DefaultContract,
		Topics:  []common.Hash{transferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    common.LeftPadBytes(amount.Bytes(), 32),
	}
}

// execute runs one contract call against state on behalf of caller.
func (c *Chain) execute(state *ledger, caller common.Address, data []byte) ([]byte, []*types.Log, error) {
	if len(data) < 4 {
		return nil, nil, revert("function selector not recognised")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, revert("function selector not recognised")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid argument encoding: %w", err)
	}

	var (
		result []interface{}
		logs   []*types.Log
	)
	switch method.Name {
	case token.MethodName:
		result = []interface{}{TokenName}
	case token.MethodSymbol:
		result = []interface{}{TokenSymbol}
	case token.MethodDecimals:
		result = []interface{}{TokenDecimals}
	case token.MethodTotalSupply:
		result = []interface{}{new(big.Int).Set(state.totalSupply)}
	case token.MethodOwner:
		result = []interface{}{state.owner}
	case token.MethodBalanceOf:
		result = []interface{}{new(big.Int).Set(state.balance(args[0].(common.Address)))}
	case token.MethodAllowance:
		result = []interface{}{new(big.Int).Set(state.allowance(args[0].(common.Address), args[1].(common.Address)))}
	case token.MethodTransfer:
		logs, err = state.transfer(caller, args[0].(common.Address), args[1].(*big.Int))
		result = []interface{}{true}
	case token.MethodApprove:
		logs, err = state.approve(caller, args[0].(common.Address), args[1].(*big.Int))
		result = []interface{}{true}
	case token.MethodIncreaseAllowance:
		spender := args[0].(common.Address)
		next := new(big.Int).Add(state.allowance(caller, spender), args[1].(*big.Int))
		if next.Cmp(maxUint256) > 0 {
			return nil, nil, revert("arithmetic overflow")
		}
		logs, err = state.approve(caller, spender, next)
		result = []interface{}{true}
	case token.MethodDecreaseAllowance:
		spender := args[0].(common.Address)
		current := state.allowance(caller, spender)
		subtracted := args[1].(*big.Int)
		if current.Cmp(subtracted) < 0 {
			return nil, nil, revert("ERC20: decreased allowance below zero")
		}
		logs, err = state.approve(caller, spender, new(big.Int).Sub(current, subtracted))
		result = []interface{}{true}
	case token.MethodTransferFrom:
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err = state.spendAllowance(from, caller, amount); err == nil {
			logs, err = state.transfer(from, to, amount)
		}
		result = []interface{}{true}
	case token.MethodTransferOwnership:
		newOwner := args[0].(common.Address)
		if err = state.onlyOwner(caller); err == nil {
			if newOwner == (common.Address{}) {
				err = revert("Ownable: new owner is the zero address")
			} else {
				logs = []*types.Log{{
					Address: DefaultContract,
					Topics:  []common.Hash{ownershipTopic, common.BytesToHash(state.owner.Bytes()), common.BytesToHash(newOwner.Bytes())},
				}}
				state.owner = newOwner
			}
		}
	case token.MethodMint:
		amount := args[0].(*big.Int)
		if err = state.onlyOwner(caller); err == nil {
			next := new(big.Int).Add(state.totalSupply, amount)
			if next.Cmp(maxUint256) > 0 {
				return nil, nil, revert("arithmetic overflow")
			}
			state.totalSupply = next
			state.balances[caller] = new(big.Int).Add(state.balance(caller), amount)
			logs = []*types.Log{transferLog(common.Address{}, caller, amount)}
		}
	default:
		return nil, nil, errors.New("tokentest: unsupported method " + method.Name)
	}
	if err != nil {
		return nil, nil, err
	}
	out, err := method.Outputs.Pack(result...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s result: %w", method.Name, err)
	}
	return out, logs, nil
}
