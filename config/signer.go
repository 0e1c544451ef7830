package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"

	"loyaltysdk/crypto"
	"loyaltysdk/observability/logging"
	"loyaltysdk/token"
)

// ErrNoSigner is returned when neither a signer key nor a keystore is
// configured.
var ErrNoSigner = errors.New("config: no signer configured; set SignerKey, SignerKeyFile, SignerKeyEnv or KeystorePath")

// PassphraseFunc supplies the keystore passphrase on demand.
type PassphraseFunc func() (string, error)

// Signer loads the signing key. A keystore is only decrypted when no raw key
// is configured; passphrase is not consulted otherwise.
func (c *Config) Signer(passphrase PassphraseFunc) (*crypto.PrivateKey, error) {
	if c.SignerKey != "" {
		key, err := crypto.PrivateKeyFromHex(c.SignerKey)
		if err != nil {
			return nil, fmt.Errorf("signer key: %w", err)
		}
		return key, nil
	}
	if c.KeystorePath == "" {
		return nil, ErrNoSigner
	}
	if passphrase == nil {
		return nil, fmt.Errorf("keystore %s requires a passphrase", c.KeystorePath)
	}
	pass, err := passphrase()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(c.KeystorePath, pass)
}

// ClientOptions translates the confirmation policy into client options.
func (c *Config) ClientOptions() []token.Option {
	opts := []token.Option{
		token.WithConfirmations(c.Confirmations),
		token.WithPollInterval(c.PollInterval.Duration),
		token.WithConfirmTimeout(c.ConfirmTimeout.Duration),
	}
	if c.ChainID > 0 {
		opts = append(opts, token.WithChainID(big.NewInt(c.ChainID)))
	}
	if c.GasLimit > 0 {
		opts = append(opts, token.WithGasLimit(c.GasLimit))
	}
	return opts
}

// LogValue keeps key material out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("rpc", endpointHost(c.RPCURL)),
		slog.String("contract", c.ContractAddress),
		slog.Int64("chain_id", c.ChainID),
		logging.MaskField("signer_key", c.SignerKey),
		slog.String("keystore", c.KeystorePath),
		slog.Uint64("confirmations", c.Confirmations),
		slog.Duration("poll_interval", c.PollInterval.Duration),
		slog.Duration("confirm_timeout", c.ConfirmTimeout.Duration),
	)
}

// endpointHost drops the path and query, where providers put API keys.
func endpointHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return logging.MaskValue(raw)
	}
	return u.Scheme + "://" + u.Host
}
