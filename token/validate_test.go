package token

import (
	"errors"
	"math/big"
	"strings"
	"testing"
)

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		name  string
		input string
		valid bool
	}{
		{name: "checksummed", input: "0x5FbDB2315678afecb367f032d93F642f64180aa3", valid: true},
		{name: "lowercase", input: "0x5fbdb2315678afecb367f032d93f642f64180aa3", valid: true},
		{name: "uppercase body", input: "0x5FBDB2315678AFECB367F032D93F642F64180AA3", valid: true},
		{name: "no prefix", input: "5fbdb2315678afecb367f032d93f642f64180aa3", valid: true},
		{name: "zero address", input: "0x0000000000000000000000000000000000000000", valid: true},
		{name: "bad checksum", input: "0x5FbDB2315678afecb367f032d93F642f64180AA3", valid: false},
		{name: "too short", input: "0x5fbdb2315678afecb367f032d93f642f64180a", valid: false},
		{name: "too long", input: "0x5fbdb2315678afecb367f032d93f642f64180aa300", valid: false},
		{name: "non hex", input: "0x5fbdb2315678afecb367f032d93f642f64180aaz", valid: false},
		{name: "empty", input: "", valid: false},
		{name: "ens name", input: "loyalty.eth", valid: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAddress("account", tc.input)
			if tc.valid && err != nil {
				t.Fatalf("expected %q to be valid, got %v", tc.input, err)
			}
			if !tc.valid {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress for %q, got %v", tc.input, err)
				}
				var typed *InvalidAddressError
				if !errors.As(err, &typed) || typed.Value != tc.input || typed.Field != "account" {
					t.Fatalf("unexpected error detail: %#v", err)
				}
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	maxUint := new(big.Int).Sub(tooLarge, big.NewInt(1))
	cases := []struct {
		name  string
		value *big.Int
		valid bool
	}{
		{name: "zero", value: big.NewInt(0), valid: true},
		{name: "positive", value: big.NewInt(100), valid: true},
		{name: "beyond int64", value: new(big.Int).Lsh(big.NewInt(1), 100), valid: true},
		{name: "max uint256", value: maxUint, valid: true},
		{name: "nil", value: nil, valid: false},
		{name: "negative", value: big.NewInt(-1), valid: false},
		{name: "overflow", value: tooLarge, valid: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAmount("amount", tc.value)
			if tc.valid && err != nil {
				t.Fatalf("expected valid amount, got %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
}

func TestValidateAmountDoesNotAliasInput(t *testing.T) {
	value := big.NewInt(-5)
	err := ValidateAmount("amount", value)
	var typed *InvalidAmountError
	if !errors.As(err, &typed) {
		t.Fatalf("expected InvalidAmountError, got %v", err)
	}
	value.SetInt64(7)
	if typed.Value.Int64() != -5 {
		t.Fatalf("error value changed with caller's big.Int: %s", typed.Value)
	}
}

func TestValidateRecipientRejectsZeroAddress(t *testing.T) {
	err := validateRecipient("recipient", "0x0000000000000000000000000000000000000000")
	if !errors.Is(err, ErrZeroAddressRecipient) {
		t.Fatalf("expected ErrZeroAddressRecipient, got %v", err)
	}
	if !IsRevert(err) {
		t.Fatalf("zero address recipient should be revert-class")
	}
	if !strings.Contains(err.Error(), "revert") {
		t.Fatalf("message should mention the revert: %v", err)
	}
	if err := validateRecipient("recipient", "not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("malformed recipient should fail format check first, got %v", err)
	}
}

type dataError struct {
	msg  string
	data interface{}
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }

func TestRevertReason(t *testing.T) {
	// Error(string) encoding of "ERC20: insufficient allowance".
	encoded := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"000000000000000000000000000000000000000000000000000000000000001d" +
		"45524332303a20696e73756666696369656e7420616c6c6f77616e6365000000"

	cases := []struct {
		name   string
		err    error
		reason string
		ok     bool
	}{
		{name: "data payload", err: dataError{msg: "execution reverted", data: encoded}, reason: "ERC20: insufficient allowance", ok: true},
		{name: "message only", err: errors.New("execution reverted: Ownable: caller is not the owner"), reason: "Ownable: caller is not the owner", ok: true},
		{name: "bare revert", err: errors.New("execution reverted"), reason: "execution reverted", ok: true},
		{name: "vm exception", err: errors.New("VM Exception while processing transaction: revert"), reason: "VM Exception while processing transaction: revert", ok: true},
		{name: "transport", err: errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), ok: false},
		{name: "proxy reverted connection", err: errors.New(`Post "https://rpc.example": proxy reverted connection to upstream`), ok: false},
		{name: "reverse proxy", err: errors.New("502 Bad Gateway: reverse proxy could not reach upstream"), ok: false},
		{name: "data without revert payload", err: dataError{msg: "header not found", data: "0x"}, ok: false},
		{name: "nil", err: nil, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, ok := revertReason(tc.err)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if reason != tc.reason {
				t.Fatalf("reason = %q, want %q", reason, tc.reason)
			}
		})
	}
}

func TestTransportErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := transportError("call balanceOf", cause)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Fatalf("transport error should match both sentinel and cause: %v", err)
	}
	if again := transportError("outer", err); again != err {
		t.Fatalf("transport errors must not be double wrapped")
	}
}
