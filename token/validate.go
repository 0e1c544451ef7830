package token

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ValidateAddress checks that s is a hex account address. Mixed-case input
// must carry a valid EIP-55 checksum; all-lower and all-upper input is
// accepted as is.
func ValidateAddress(field, s string) error {
	if !common.IsHexAddress(s) {
		return &InvalidAddressError{Field: field, Value: s}
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hasMixedCase(body) {
		if common.HexToAddress(body).Hex()[2:] != body {
			return &InvalidAddressError{Field: field, Value: s}
		}
	}
	return nil
}

// ValidateAmount checks that value is a non-negative integer that fits the
// contract's uint256 arguments. Zero is valid.
func ValidateAmount(field string, value *big.Int) error {
	if value == nil {
		return &InvalidAmountError{Field: field, Reason: "amount required"}
	}
	if value.Sign() < 0 {
		return &InvalidAmountError{Field: field, Value: new(big.Int).Set(value), Reason: "must not be negative"}
	}
	if _, overflow := uint256.FromBig(value); overflow {
		return &InvalidAmountError{Field: field, Value: new(big.Int).Set(value), Reason: "exceeds uint256"}
	}
	return nil
}

// validateRecipient is ValidateAddress plus the zero-address rule applied to
// transfer targets.
func validateRecipient(field, s string) error {
	if err := ValidateAddress(field, s); err != nil {
		return err
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return &ZeroAddressRecipientError{Field: field}
	}
	return nil
}

func hasMixedCase(s string) bool {
	var lower, upper bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'f':
			lower = true
		case r >= 'A' && r <= 'F':
			upper = true
		}
	}
	return lower && upper
}
