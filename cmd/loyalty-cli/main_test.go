package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"loyaltysdk/config"
	"loyaltysdk/crypto"
	"loyaltysdk/token"
	"loyaltysdk/token/tokentest"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

type cliFixture struct {
	chain   *tokentest.Chain
	owner   *crypto.PrivateKey
	cfgPath string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	owner, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	chain := tokentest.New(owner.Address(), big.NewInt(1_000))

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "loyalty.toml")
	contents := fmt.Sprintf(`RPCURL = "http://127.0.0.1:8545"
ContractAddress = %q
SignerKey = %q
PollInterval = "1ms"
RequestTimeout = "5s"

[logging]
Level = "error"
`, tokentest.DefaultContract.Hex(), hex.EncodeToString(owner.Bytes()))
	require.NoError(t, os.WriteFile(cfgPath, []byte(contents), 0o600))

	original := dialClient
	dialClient = func(ctx context.Context, cfg *config.Config, key *crypto.PrivateKey, logger *slog.Logger) (tokenClient, error) {
		opts := append(cfg.ClientOptions(), token.WithLogger(logger))
		return token.New(ctx, chain, key, cfg.ContractAddress, opts...)
	}
	t.Cleanup(func() { dialClient = original })
	return &cliFixture{chain: chain, owner: owner, cfgPath: cfgPath}
}

func (f *cliFixture) run(args ...string) (int, string, string) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run(append([]string{"--config", f.cfgPath}, args...), stdout, stderr)
	return code, stdout.String(), stderr.String()
}

func decodeOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
	return decoded
}

func newAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key.Address().Hex()
}

func TestTransferAndBalance(t *testing.T) {
	f := newCLIFixture(t)
	recipient := newAddress(t)

	code, stdout, stderr := f.run("transfer", recipient, "40")
	require.Equal(t, exitOK, code, stderr)
	out := decodeOutput(t, stdout)
	require.Equal(t, "transfer", out["operation"])
	require.Equal(t, "confirmed", out["status"])

	code, stdout, _ = f.run("balance", recipient)
	require.Equal(t, exitOK, code)
	require.Equal(t, "40", decodeOutput(t, stdout)["balance"])

	code, stdout, _ = f.run("balance", f.owner.Address().Hex())
	require.Equal(t, exitOK, code)
	require.Equal(t, "960", decodeOutput(t, stdout)["balance"])
}

func TestAllowanceCommands(t *testing.T) {
	f := newCLIFixture(t)
	spender := newAddress(t)
	owner := f.owner.Address().Hex()

	for _, step := range []struct {
		cmd, amount, want string
	}{
		{"approve", "100", "100"},
		{"increase-allowance", "50", "150"},
		{"decrease-allowance", "50", "100"},
	} {
		code, _, stderr := f.run(step.cmd, spender, step.amount)
		require.Equal(t, exitOK, code, stderr)
		code, stdout, _ := f.run("allowance", owner, spender)
		require.Equal(t, exitOK, code)
		require.Equal(t, step.want, decodeOutput(t, stdout)["allowance"], step.cmd)
	}
}

func TestExitCodes(t *testing.T) {
	f := newCLIFixture(t)
	valid := newAddress(t)

	cases := []struct {
		name  string
		args  []string
		code  int
		class string
	}{
		{"unknown command", []string{"burn", "1"}, exitUsage, ""},
		{"missing args", []string{"transfer", valid}, exitUsage, ""},
		{"bad address", []string{"balance", "0x1234"}, exitUsage, "validation"},
		{"bad amount", []string{"transfer", valid, "lots"}, exitUsage, "validation"},
		{"negative amount", []string{"approve", valid, "-1"}, exitUsage, "validation"},
		{"zero address", []string{"transfer", zeroAddress, "1"}, exitRevert, "revert"},
		{"exceeds balance", []string{"transfer", valid, "1001"}, exitRevert, "revert"},
		{"decrease below zero", []string{"decrease-allowance", valid, "1"}, exitRevert, "revert"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, stdout, stderr := f.run(tc.args...)
			require.Equal(t, tc.code, code, stderr)
			require.Empty(t, stdout)
			if tc.class != "" {
				require.Contains(t, stderr, `"class": "`+tc.class+`"`)
			}
		})
	}
	require.Zero(t, f.chain.CallsTo("SendTransaction"))
}

func TestTransportExitCode(t *testing.T) {
	f := newCLIFixture(t)
	f.chain.FailNext("CallContract", errors.New("connection reset by peer"))
	code, _, stderr := f.run("owner")
	require.Equal(t, exitTransport, code)
	require.Contains(t, stderr, "connection reset by peer")
}

func TestOwnershipCommands(t *testing.T) {
	f := newCLIFixture(t)
	next := newAddress(t)

	code, _, stderr := f.run("mint", "5")
	require.Equal(t, exitOK, code, stderr)

	code, _, stderr = f.run("transfer-ownership", next)
	require.Equal(t, exitOK, code, stderr)

	code, stdout, _ := f.run("owner")
	require.Equal(t, exitOK, code)
	require.Equal(t, next, decodeOutput(t, stdout)["owner"])

	code, _, stderr = f.run("mint", "5")
	require.Equal(t, exitRevert, code, stderr)

	code, stdout, _ = f.run("info")
	require.Equal(t, exitOK, code)
	info := decodeOutput(t, stdout)
	require.Equal(t, "1005", info["totalSupply"])
	require.Equal(t, tokentest.TokenName, info["name"])
}

func TestAccountCommand(t *testing.T) {
	f := newCLIFixture(t)
	code, stdout, _ := f.run("account")
	require.Equal(t, exitOK, code)
	require.Equal(t, f.owner.Address().Hex(), decodeOutput(t, stdout)["account"])
}

func TestKeygenWritesUsableConfig(t *testing.T) {
	original := newPassphrase
	newPassphrase = func(string) config.PassphraseFunc {
		return func() (string, error) { return "correct horse battery", nil }
	}
	t.Cleanup(func() { newPassphrase = original })

	dir := t.TempDir()
	keystorePath := filepath.Join(dir, "keys", "signer.json")
	cfgPath := filepath.Join(dir, "loyalty.toml")
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run([]string{"keygen",
		"--out", keystorePath,
		"--write-config", cfgPath,
		"--contract", tokentest.DefaultContract.Hex(),
		"--passphrase-env", "LOYALTY_TEST_PASS",
	}, stdout, stderr)
	require.Equal(t, exitOK, code, stderr.String())
	out := decodeOutput(t, stdout.String())

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, keystorePath, cfg.KeystorePath)
	require.Equal(t, "LOYALTY_TEST_PASS", cfg.KeystorePassphraseEnv)

	key, err := cfg.Signer(func() (string, error) { return "correct horse battery", nil })
	require.NoError(t, err)
	require.Equal(t, out["address"], key.Address().Hex())

	code = run([]string{"keygen", "--out", keystorePath}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Equal(t, exitUsage, code, "existing keystore is never overwritten")
}

func TestKeygenRequiresOut(t *testing.T) {
	stderr := &bytes.Buffer{}
	code := run([]string{"keygen"}, &bytes.Buffer{}, stderr)
	require.Equal(t, exitUsage, code)
	require.Contains(t, stderr.String(), "--out is required")
}

func TestExitCodeClassification(t *testing.T) {
	require.Equal(t, exitTransport, exitCode(fmt.Errorf("wait: %w", token.ErrConfirmTimeout)))
	require.Equal(t, exitTransport, exitCode(&token.TransportError{Op: "call", Err: context.DeadlineExceeded}))
	require.Equal(t, exitRevert, exitCode(&token.ChainRevertError{Method: "transfer"}))
	require.Equal(t, exitUsage, exitCode(config.ErrNoSigner))
}
