package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidAddress matches every *InvalidAddressError.
	ErrInvalidAddress = errors.New("token: invalid address")
	// ErrInvalidAmount matches every *InvalidAmountError.
	ErrInvalidAmount = errors.New("token: invalid amount")
	// ErrZeroAddressRecipient matches every *ZeroAddressRecipientError.
	ErrZeroAddressRecipient = errors.New("token: zero address recipient")
	// ErrChainRevert matches every *ChainRevertError.
	ErrChainRevert = errors.New("token: execution reverted")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("token: transport failure")
	// ErrClientClosed is returned for calls issued after Close and resolves
	// pending transactions that were still being tracked.
	ErrClientClosed = errors.New("token: client closed")
)

// InvalidAddressError reports a string that is not a well-formed account address.
type InvalidAddressError struct {
	Field string
	Value string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("token: invalid %s address %q", e.Field, e.Value)
}

func (e *InvalidAddressError) Is(target error) bool { return target == ErrInvalidAddress }

// InvalidAmountError reports an amount that cannot be sent to the contract.
type InvalidAmountError struct {
	Field  string
	Value  *big.Int
	Reason string
}

func (e *InvalidAmountError) Error() string {
	value := "<nil>"
	if e.Value != nil {
		value = e.Value.String()
	}
	return fmt.Sprintf("token: invalid %s %s: %s", e.Field, value, e.Reason)
}

func (e *InvalidAmountError) Is(target error) bool { return target == ErrInvalidAmount }

// ZeroAddressRecipientError is raised locally for transfers to the zero
// address. The contract reverts the same call, so IsRevert reports true.
type ZeroAddressRecipientError struct {
	Field string
}

func (e *ZeroAddressRecipientError) Error() string {
	return fmt.Sprintf("token: %s is the zero address; transfer would revert", e.Field)
}

func (e *ZeroAddressRecipientError) Is(target error) bool {
	return target == ErrZeroAddressRecipient
}

// ChainRevertError carries the reason reported by the network when the
// contract rejected a state transition. TxHash is empty when the revert was
// detected during gas estimation and nothing was broadcast.
type ChainRevertError struct {
	Method string
	TxHash common.Hash
	Reason string
}

func (e *ChainRevertError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "execution reverted"
	}
	if (e.TxHash == common.Hash{}) {
		return fmt.Sprintf("token: %s reverted: %s", e.Method, reason)
	}
	return fmt.Sprintf("token: %s reverted in %s: %s", e.Method, e.TxHash.Hex(), reason)
}

func (e *ChainRevertError) Is(target error) bool { return target == ErrChainRevert }

// TransportError wraps a failure of the RPC collaborator. The original error
// stays reachable through errors.Is and errors.As.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("token: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsRevert reports whether err is a revert-class failure: either an on-chain
// rejection or a locally detected zero-address transfer.
func IsRevert(err error) bool {
	return errors.Is(err, ErrChainRevert) || errors.Is(err, ErrZeroAddressRecipient)
}

// IsValidation reports whether err was raised by local input validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrZeroAddressRecipient)
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
