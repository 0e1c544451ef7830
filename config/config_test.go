package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loyaltysdk/crypto"
	"loyaltysdk/token"
)

const (
	testContract            = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testKeystorePassphrase  = "test-passphrase"
	testSignerKeyHex        = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testSignerKeyAddressHex = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func writeConfig(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesClientSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf(`RPCURL = "https://rpc.example:8545"
ChainID = 31337
ContractAddress = "%s"
SignerKey = "0x%s"
Confirmations = 3
PollInterval = "250ms"
ConfirmTimeout = "2m"
RequestTimeout = "15s"
GasLimit = 90000

[logging]
Service = "loyalty-test"
Env = "ci"
Level = "debug"
File = "logs/client.log"
MaxSizeMB = 10

[telemetry]
Endpoint = "otel:4318"
Insecure = true
Traces = true
`, testContract, testSignerKeyHex))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example:8545", cfg.RPCURL)
	require.Equal(t, int64(31337), cfg.ChainID)
	require.Equal(t, testContract, cfg.ContractAddress)
	require.Equal(t, uint64(3), cfg.Confirmations)
	require.Equal(t, 250*time.Millisecond, cfg.PollInterval.Duration)
	require.Equal(t, 2*time.Minute, cfg.ConfirmTimeout.Duration)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout.Duration)
	require.Equal(t, uint64(90000), cfg.GasLimit)
	require.Equal(t, "loyalty-test", cfg.Logging.Service)
	require.Equal(t, filepath.Join(dir, "logs", "client.log"), cfg.Logging.File)
	require.True(t, cfg.Telemetry.Enabled())
	require.Len(t, cfg.ClientOptions(), 5)

	key, err := cfg.Signer(nil)
	require.NoError(t, err)
	require.Equal(t, testSignerKeyAddressHex, key.Address().Hex())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), fmt.Sprintf("ContractAddress = %q\n", testContract))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultRPCURL, cfg.RPCURL)
	require.Equal(t, uint64(DefaultConfirmations), cfg.Confirmations)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval.Duration)
	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout.Duration)
	require.Equal(t, DefaultConfirmTimeout, cfg.ConfirmTimeout.Duration)
	require.Equal(t, "loyalty-client", cfg.Logging.Service)
	require.Len(t, cfg.ClientOptions(), 3)

	_, err = cfg.Signer(nil)
	require.ErrorIs(t, err, ErrNoSigner)
}

func TestLoadResolvesSignerFromEnv(t *testing.T) {
	t.Setenv("LOYALTY_TEST_SIGNER", "  0x"+testSignerKeyHex+"\n")
	path := writeConfig(t, t.TempDir(), fmt.Sprintf("ContractAddress = %q\nSignerKeyEnv = \"LOYALTY_TEST_SIGNER\"\n", testContract))
	cfg, err := Load(path)
	require.NoError(t, err)
	key, err := cfg.Signer(nil)
	require.NoError(t, err)
	require.Equal(t, testSignerKeyAddressHex, key.Address().Hex())
}

func TestLoadRejectsEmptySignerEnv(t *testing.T) {
	t.Setenv("LOYALTY_TEST_SIGNER", "   ")
	path := writeConfig(t, t.TempDir(), fmt.Sprintf("ContractAddress = %q\nSignerKeyEnv = \"LOYALTY_TEST_SIGNER\"\n", testContract))
	_, err := Load(path)
	require.ErrorContains(t, err, "LOYALTY_TEST_SIGNER is empty")
}

func TestLoadResolvesRelativeSignerFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "secrets"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets", "signer.hex"), []byte(testSignerKeyHex+"\n"), 0o600))
	path := writeConfig(t, dir, fmt.Sprintf("ContractAddress = %q\nSignerKeyFile = \"secrets/signer.hex\"\n", testContract))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, testSignerKeyHex, cfg.SignerKey)
}

func TestLoadRejectsEmbeddedPrivateKey(t *testing.T) {
	path := writeConfig(t, t.TempDir(), fmt.Sprintf("ContractAddress = %q\nPrivateKey = \"%s\"\n", testContract, testSignerKeyHex))
	_, err := Load(path)
	require.ErrorContains(t, err, "embeds PrivateKey")
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := writeConfig(t, t.TempDir(), fmt.Sprintf("ContractAddress = %q\nPollInterval = \"soon\"\n", testContract))
	_, err := Load(path)
	require.ErrorContains(t, err, "parse duration")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.ContractAddress = testContract
		return cfg
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "websocket", mutate: func(c *Config) { c.RPCURL = "wss://node.example/ws" }},
		{name: "unsupported scheme", mutate: func(c *Config) { c.RPCURL = "ftp://node.example" }, want: "unsupported scheme"},
		{name: "missing host", mutate: func(c *Config) { c.RPCURL = "http://" }, want: "host required"},
		{name: "missing contract", mutate: func(c *Config) { c.ContractAddress = "" }, want: "ContractAddress must be configured"},
		{name: "bad contract", mutate: func(c *Config) { c.ContractAddress = "0x1234" }, want: "invalid ContractAddress"},
		{name: "negative chain", mutate: func(c *Config) { c.ChainID = -1 }, want: "ChainID"},
		{name: "timeout below poll", mutate: func(c *Config) {
			c.PollInterval.Duration = time.Second
			c.ConfirmTimeout.Duration = time.Millisecond
		}, want: "shorter than PollInterval"},
		{name: "two signers", mutate: func(c *Config) {
			c.SignerKey = testSignerKeyHex
			c.KeystorePath = "/tmp/key.json"
		}, want: "not both"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestValidateUsesAddressRules(t *testing.T) {
	cfg := Default()
	cfg.ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180AA3"
	require.ErrorIs(t, cfg.Validate(), token.ErrInvalidAddress)
}

func TestSignerFromKeystore(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.PrivateKeyFromHex(testSignerKeyHex)
	require.NoError(t, err)
	keystorePath := filepath.Join(dir, "signer.keystore")
	require.NoError(t, crypto.SaveToKeystore(keystorePath, key, testKeystorePassphrase))

	path := writeConfig(t, dir, fmt.Sprintf("ContractAddress = %q\nKeystorePath = \"signer.keystore\"\n", testContract))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, keystorePath, cfg.KeystorePath)

	_, err = cfg.Signer(nil)
	require.ErrorContains(t, err, "requires a passphrase")

	prompted := errors.New("no terminal")
	_, err = cfg.Signer(func() (string, error) { return "", prompted })
	require.ErrorIs(t, err, prompted)

	loaded, err := cfg.Signer(func() (string, error) { return testKeystorePassphrase, nil })
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(key.Bytes()), hex.EncodeToString(loaded.Bytes()))
}

func TestLogValueMasksSignerKey(t *testing.T) {
	cfg := Default()
	cfg.RPCURL = "https://mainnet.example/v3/provider-api-key"
	cfg.ContractAddress = testContract
	cfg.SignerKey = testSignerKeyHex

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("loaded", slog.Any("config", cfg))

	out := buf.String()
	require.NotContains(t, out, testSignerKeyHex)
	require.NotContains(t, out, "provider-api-key")
	require.Contains(t, out, "[REDACTED]")
	require.Contains(t, out, "https://mainnet.example")
}

func TestSaveOmitsSignerKey(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.ContractAddress = testContract
	cfg.SignerKey = testSignerKeyHex
	cfg.KeystorePath = filepath.Join(dir, "signer.keystore")
	cfg.ConfirmTimeout.Duration = 90 * time.Second

	path := filepath.Join(dir, "nested", "config.toml")
	require.NoError(t, Save(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), testSignerKeyHex))
	require.Equal(t, testSignerKeyHex, cfg.SignerKey, "Save must not modify the caller's config")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.KeystorePath, loaded.KeystorePath)
	require.Equal(t, 90*time.Second, loaded.ConfirmTimeout.Duration)
	require.Equal(t, DefaultPollInterval, loaded.PollInterval.Duration)
}
