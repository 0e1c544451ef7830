package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"loyaltysdk/cmd/internal/passphrase"
	"loyaltysdk/config"
	"loyaltysdk/crypto"
)

const keystorePassphraseEnv = "LOYALTY_KEYSTORE_PASSPHRASE"

var newPassphrase = func(envVar string) config.PassphraseFunc {
	return passphrase.NewSource(envVar, passphrase.WithConfirmation()).Get
}

type keygenResult struct {
	Address  string `json:"address"`
	Keystore string `json:"keystore"`
	Config   string `json:"config,omitempty"`
}

// runKeygen creates an encrypted keystore and, with --write-config, a client
// configuration that points at it.
func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "keystore file to create")
	configOut := fs.String("write-config", "", "also write a client configuration to this path")
	rpcURL := fs.String("rpc", config.DefaultRPCURL, "RPC endpoint recorded in the written configuration")
	contract := fs.String("contract", "", "token contract recorded in the written configuration")
	passEnv := fs.String("passphrase-env", keystorePassphraseEnv, "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return exitUsage
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return exitUsage
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", path)
		return exitUsage
	}
	if *configOut != "" && strings.TrimSpace(*contract) == "" {
		fmt.Fprintln(stderr, "Error: --contract is required with --write-config")
		return exitUsage
	}

	pass, err := newPassphrase(*passEnv)()
	if err != nil {
		return fail(stderr, err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fail(stderr, err)
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		return fail(stderr, err)
	}
	result := keygenResult{Address: key.Address().Hex(), Keystore: path}

	if *configOut != "" {
		cfg := config.Default()
		cfg.RPCURL = strings.TrimSpace(*rpcURL)
		cfg.ContractAddress = strings.TrimSpace(*contract)
		cfg.KeystorePath = keystoreRef(*configOut, path)
		cfg.KeystorePassphraseEnv = *passEnv
		if err := cfg.Validate(); err != nil {
			return fail(stderr, err)
		}
		if err := config.Save(*configOut, cfg); err != nil {
			return fail(stderr, err)
		}
		result.Config = *configOut
	}
	writeJSON(stdout, result)
	return exitOK
}

// keystoreRef records the keystore relative to the configuration when
// possible; Load resolves relative paths against the config directory.
func keystoreRef(configPath, keystorePath string) string {
	absKey, err := filepath.Abs(keystorePath)
	if err != nil {
		return keystorePath
	}
	absDir, err := filepath.Abs(filepath.Dir(configPath))
	if err != nil {
		return absKey
	}
	if rel, err := filepath.Rel(absDir, absKey); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return absKey
}
