package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"loyaltysdk/token"
)

type command struct {
	args []string
	help string
	run  func(ctx context.Context, c tokenClient, args []string) (any, error)
}

type txResult struct {
	Operation string `json:"operation"`
	Signer    string `json:"signer"`
	Status    string `json:"status"`
}

var commandOrder = []string{
	"balance", "allowance", "owner", "info", "account",
	"transfer", "approve", "increase-allowance", "decrease-allowance",
	"transfer-from", "transfer-ownership", "mint",
}

var commands = map[string]command{
	"balance": {
		args: []string{"<account>"},
		help: "print the token balance of account",
		run: func(ctx context.Context, c tokenClient, args []string) (any, error) {
			balance, err := c.GetBalance(ctx, args[0])
			if err != nil {
				return nil, err
			}
			return map[string]string{"account": args[0], "balance": balance}, nil
		},
	},
	"allowance": {
		args: []string{"<owner>", "<spender>"},
		help: "print how much spender may move on behalf of owner",
		run: func(ctx context.Context, c tokenClient, args []string) (any, error) {
			allowance, err := c.Allowance(ctx, args[0], args[1])
			if err != nil {
				return nil, err
			}
			return map[string]string{"owner": args[0], "spender": args[1], "allowance": allowance}, nil
		},
	},
	"owner": {
		help: "print the contract owner",
		run: func(ctx context.Context, c tokenClient, _ []string) (any, error) {
			owner, err := c.Owner(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"owner": owner}, nil
		},
	},
	"info": {
		help: "print name, symbol, decimals, supply and owner",
		run: func(ctx context.Context, c tokenClient, _ []string) (any, error) {
			return c.Info(ctx)
		},
	},
	"account": {
		help: "print the signer address",
		run: func(_ context.Context, c tokenClient, _ []string) (any, error) {
			return map[string]string{"account": c.Account()}, nil
		},
	},
	"transfer": writeCommand(token.MethodTransfer, []string{"<to>", "<amount>"}, "send tokens from the signer",
		func(ctx context.Context, c tokenClient, args []string, amount *big.Int) error {
			return c.Transfer(ctx, args[0], amount)
		}),
	"approve": writeCommand(token.MethodApprove, []string{"<spender>", "<amount>"}, "set spender's allowance",
		func(ctx context.Context, c tokenClient, args []string, amount *big.Int) error {
			return c.Approve(ctx, args[0], amount)
		}),
	"increase-allowance": writeCommand(token.MethodIncreaseAllowance, []string{"<spender>", "<amount>"}, "raise spender's allowance",
		func(ctx context.Context, c tokenClient, args []string, amount *big.Int) error {
			return c.IncreaseAllowance(ctx, args[0], amount)
		}),
	"decrease-allowance": writeCommand(token.MethodDecreaseAllowance, []string{"<spender>", "<amount>"}, "lower spender's allowance",
		func(ctx context.Context, c tokenClient, args []string, amount *big.Int) error {
			return c.DecreaseAllowance(ctx, args[0], amount)
		}),
	"transfer-from": writeCommand(token.MethodTransferFrom, []string{"<from>", "<to>", "<amount>"}, "spend an allowance granted to the signer",
		func(ctx context.Context, c tokenClient, args []string, amount *big.Int) error {
			return c.TransferFrom(ctx, args[0], args[1], amount)
		}),
	"transfer-ownership": writeCommand(token.MethodTransferOwnership, []string{"<new-owner>"}, "hand the contract to a new owner",
		func(ctx context.Context, c tokenClient, args []string, _ *big.Int) error {
			return c.TransferOwnership(ctx, args[0])
		}),
	"mint": writeCommand(token.MethodMint, []string{"<amount>"}, "mint to the signer (owner only)",
		func(ctx context.Context, c tokenClient, _ []string, amount *big.Int) error {
			return c.Mint(ctx, amount)
		}),
}

// writeCommand parses the trailing <amount> argument, when the command takes
// one, before running fn.
func writeCommand(method string, args []string, help string, fn func(context.Context, tokenClient, []string, *big.Int) error) command {
	takesAmount := len(args) > 0 && args[len(args)-1] == "<amount>"
	return command{
		args: args,
		help: help,
		run: func(ctx context.Context, c tokenClient, in []string) (any, error) {
			var amount *big.Int
			if takesAmount {
				parsed, err := parseAmount(in[len(in)-1])
				if err != nil {
					return nil, err
				}
				amount = parsed
			}
			if err := fn(ctx, c, in, amount); err != nil {
				return nil, err
			}
			return txResult{Operation: method, Signer: c.Account(), Status: "confirmed"}, nil
		},
	}
}

// parseAmount accepts base-unit decimal integers. Range checks are left to
// the client so they share its error type.
func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, &token.InvalidAmountError{Field: "amount", Reason: fmt.Sprintf("%q is not a decimal integer", raw)}
	}
	return amount, nil
}
