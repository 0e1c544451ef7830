package config

import (
	"fmt"
	"net/url"
	"strings"

	"loyaltysdk/token"
)

var supportedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"ws":    {},
	"wss":   {},
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.RPCURL)
	if err != nil {
		return fmt.Errorf("RPCURL: %w", err)
	}
	if _, ok := supportedSchemes[strings.ToLower(parsed.Scheme)]; !ok {
		return fmt.Errorf("RPCURL: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("RPCURL: host required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("ContractAddress must be configured")
	}
	if err := token.ValidateAddress("ContractAddress", c.ContractAddress); err != nil {
		return err
	}
	if c.ChainID < 0 {
		return fmt.Errorf("ChainID must be positive")
	}
	if c.PollInterval.Duration < 0 || c.ConfirmTimeout.Duration < 0 || c.RequestTimeout.Duration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.ConfirmTimeout.Duration > 0 && c.ConfirmTimeout.Duration < c.PollInterval.Duration {
		return fmt.Errorf("ConfirmTimeout %s is shorter than PollInterval %s", c.ConfirmTimeout.Duration, c.PollInterval.Duration)
	}
	if c.SignerKey != "" && c.KeystorePath != "" {
		return fmt.Errorf("configure either a signer key or KeystorePath, not both")
	}
	return nil
}
