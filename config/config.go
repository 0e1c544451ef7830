package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"loyaltysdk/token"
)

const (
	DefaultRPCURL         = "http://127.0.0.1:8545"
	DefaultPollInterval   = time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultConfirmations  = 1
	DefaultConfirmTimeout = token.DefaultConfirmTimeout
)

// Config is the client's on-disk configuration.
type Config struct {
	RPCURL          string `toml:"RPCURL"`
	ChainID         int64  `toml:"ChainID,omitempty"`
	ContractAddress string `toml:"ContractAddress"`

	SignerKey             string `toml:"SignerKey,omitempty"`
	SignerKeyFile         string `toml:"SignerKeyFile,omitempty"`
	SignerKeyEnv          string `toml:"SignerKeyEnv,omitempty"`
	KeystorePath          string `toml:"KeystorePath,omitempty"`
	KeystorePassphraseEnv string `toml:"KeystorePassphraseEnv,omitempty"`

	Confirmations  uint64   `toml:"Confirmations"`
	PollInterval   Duration `toml:"PollInterval"`
	ConfirmTimeout Duration `toml:"ConfirmTimeout,omitempty"`
	RequestTimeout Duration `toml:"RequestTimeout"`
	GasLimit       uint64   `toml:"GasLimit,omitempty"`

	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// Load reads the configuration at path, resolves the signer source and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "PrivateKey" {
			return nil, fmt.Errorf("config file %s embeds PrivateKey; use SignerKeyFile, SignerKeyEnv or KeystorePath", path)
		}
	}
	cfg.applyDefaults()
	if err := cfg.normalise(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration pointing at a local node.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.RPCURL = strings.TrimSpace(c.RPCURL)
	if c.RPCURL == "" {
		c.RPCURL = DefaultRPCURL
	}
	c.ContractAddress = strings.TrimSpace(c.ContractAddress)
	if c.Confirmations == 0 {
		c.Confirmations = DefaultConfirmations
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval.Duration = DefaultPollInterval
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.ConfirmTimeout.Duration == 0 {
		c.ConfirmTimeout.Duration = DefaultConfirmTimeout
	}
	if strings.TrimSpace(c.Logging.Service) == "" {
		c.Logging.Service = "loyalty-client"
	}
}

// normalise resolves SignerKeyEnv and SignerKeyFile into SignerKey. Relative
// file paths are taken from the config file's directory.
func (c *Config) normalise(baseDir string) error {
	c.SignerKey = strings.TrimSpace(c.SignerKey)
	c.SignerKeyEnv = strings.TrimSpace(c.SignerKeyEnv)
	c.SignerKeyFile = resolvePath(baseDir, c.SignerKeyFile)
	c.KeystorePath = resolvePath(baseDir, c.KeystorePath)
	c.KeystorePassphraseEnv = strings.TrimSpace(c.KeystorePassphraseEnv)
	c.Logging.File = resolvePath(baseDir, c.Logging.File)
	if c.SignerKey != "" {
		return nil
	}
	switch {
	case c.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("SignerKeyEnv %s is empty", c.SignerKeyEnv)
		}
		c.SignerKey = value
	case c.SignerKeyFile != "":
		contents, err := os.ReadFile(c.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read SignerKeyFile: %w", err)
		}
		c.SignerKey = strings.TrimSpace(string(contents))
		if c.SignerKey == "" {
			return fmt.Errorf("SignerKeyFile %s is empty", c.SignerKeyFile)
		}
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" || baseDir == "." {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Save writes cfg to path as TOML. SignerKey is never persisted; the file
// keeps only the source it was resolved from.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out := *cfg
	out.SignerKey = ""
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(&out)
}
