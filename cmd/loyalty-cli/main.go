package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"loyaltysdk/cmd/internal/passphrase"
	"loyaltysdk/config"
	"loyaltysdk/crypto"
	"loyaltysdk/observability/logging"
	telemetry "loyaltysdk/observability/otel"
	"loyaltysdk/token"
)

const (
	exitOK        = 0
	exitUsage     = 1
	exitRevert    = 2
	exitTransport = 3
)

const configEnv = "LOYALTY_CONFIG"

type tokenClient interface {
	Account() string
	GetBalance(ctx context.Context, account string) (string, error)
	Allowance(ctx context.Context, owner, spender string) (string, error)
	Owner(ctx context.Context) (string, error)
	Info(ctx context.Context) (token.Info, error)
	Transfer(ctx context.Context, to string, amount *big.Int) error
	Approve(ctx context.Context, spender string, amount *big.Int) error
	IncreaseAllowance(ctx context.Context, spender string, amount *big.Int) error
	DecreaseAllowance(ctx context.Context, spender string, amount *big.Int) error
	TransferFrom(ctx context.Context, from, to string, amount *big.Int) error
	TransferOwnership(ctx context.Context, newOwner string) error
	Mint(ctx context.Context, amount *big.Int) error
	Close()
}

// dialClient is swapped out by tests to bind an in-memory chain.
var dialClient = func(ctx context.Context, cfg *config.Config, key *crypto.PrivateKey, logger *slog.Logger) (tokenClient, error) {
	opts := append(cfg.ClientOptions(), token.WithLogger(logger))
	return token.Dial(ctx, cfg.RPCURL, key, cfg.ContractAddress, opts...)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("loyalty-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	defaultPath := strings.TrimSpace(os.Getenv(configEnv))
	if defaultPath == "" {
		defaultPath = "loyalty.toml"
	}
	cfgPath := fs.String("config", defaultPath, "path to the client configuration (TOML)")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return exitUsage
	}
	name, cmdArgs := rest[0], rest[1:]
	if name == "keygen" {
		return runKeygen(cmdArgs, stdout, stderr)
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		fmt.Fprintln(stderr, usage())
		return exitUsage
	}
	if len(cmdArgs) != len(cmd.args) {
		fmt.Fprintf(stderr, "Usage: loyalty-cli %s %s\n", name, strings.Join(cmd.args, " "))
		return exitUsage
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fail(stderr, err)
	}
	logger, closer := logging.SetupWithOptions(logging.Options{
		Service:    cfg.Logging.Service,
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Output:     logOutput(cfg, stderr),
	})
	defer closer.Close()
	logger.Debug("configuration loaded", slog.Any("config", cfg))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout.Duration+cfg.ConfirmTimeout.Duration)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Logging.Service,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	key, err := cfg.Signer(passphrase.NewSource(cfg.KeystorePassphraseEnv).Get)
	if err != nil {
		return fail(stderr, err)
	}
	client, err := dialClient(ctx, cfg, key, logger)
	if err != nil {
		return fail(stderr, err)
	}
	defer client.Close()

	result, err := cmd.run(ctx, client, cmdArgs)
	if err != nil {
		logger.Warn("command failed", slog.String("command", name), slog.Any("error", err))
		return fail(stderr, err)
	}
	writeJSON(stdout, result)
	return exitOK
}

// logOutput keeps stdout for JSON results; logs go to stderr unless a file
// is configured.
func logOutput(cfg *config.Config, stderr io.Writer) io.Writer {
	if cfg.Logging.File != "" {
		return nil
	}
	return stderr
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case token.IsRevert(err):
		return exitRevert
	case errors.Is(err, token.ErrTransport), errors.Is(err, token.ErrConfirmTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return exitTransport
	default:
		return exitUsage
	}
}

func errorClass(err error) string {
	switch {
	case token.IsRevert(err):
		return "revert"
	case token.IsValidation(err):
		return "validation"
	case errors.Is(err, token.ErrTransport), errors.Is(err, token.ErrConfirmTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return "transport"
	default:
		return "usage"
	}
}

func fail(stderr io.Writer, err error) int {
	writeJSON(stderr, map[string]string{"error": err.Error(), "class": errorClass(err)})
	return exitCode(err)
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage: loyalty-cli [--config path] <command> [args]\n\nCommands:\n")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(&b, "  %-20s %s\n", strings.TrimSpace(name+" "+strings.Join(cmd.args, " ")), cmd.help)
	}
	fmt.Fprintf(&b, "  %-20s %s\n", "keygen --out <path>", "create an encrypted keystore for a new signer")
	return strings.TrimRight(b.String(), "\n")
}
