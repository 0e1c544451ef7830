package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loyaltysdk/cmd/internal/passphrase"
	clientconfig "loyaltysdk/config"
	"loyaltysdk/gateway/config"
	"loyaltysdk/gateway/middleware"
	"loyaltysdk/gateway/routes"
	"loyaltysdk/observability/logging"
	telemetry "loyaltysdk/observability/otel"
	"loyaltysdk/token"
)

func main() {
	var cfgPath string
	var allowInsecure bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration (YAML)")
	flag.BoolVar(&allowInsecure, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	if err := run(cfgPath, allowInsecure); err != nil {
		slog.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath string, allowInsecure bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	configDir := ""
	if strings.TrimSpace(cfgPath) != "" {
		configDir = filepath.Dir(cfgPath)
	}
	clientCfg, err := clientconfig.Load(resolvePath(configDir, cfg.ClientConfig))
	if err != nil {
		return fmt.Errorf("load client config: %w", err)
	}

	logger, closer := logging.SetupWithOptions(logging.Options{
		Service:    cfg.Observability.ServiceName,
		Env:        cfg.Environment,
		Level:      clientCfg.Logging.Level,
		File:       clientCfg.Logging.File,
		MaxSizeMB:  clientCfg.Logging.MaxSizeMB,
		MaxBackups: clientCfg.Logging.MaxBackups,
		MaxAgeDays: clientCfg.Logging.MaxAgeDays,
	})
	defer closer.Close()
	logger.Info("configuration loaded", slog.Any("client", clientCfg), slog.String("listen", cfg.ListenAddress))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    clientCfg.Telemetry.Endpoint,
		Insecure:    clientCfg.Telemetry.Insecure,
		Headers:     clientCfg.Telemetry.Headers,
		Traces:      cfg.Observability.Tracing && clientCfg.Telemetry.Traces,
		Metrics:     clientCfg.Telemetry.Metrics,
		SampleRatio: clientCfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	rpcURL, err := url.Parse(clientCfg.RPCURL)
	if err != nil {
		return fmt.Errorf("parse RPCURL: %w", err)
	}
	secured, upgraded, err := config.EnforceSecureScheme(cfg.Environment, rpcURL, cfg.Security.AutoUpgradeHTTP)
	if err != nil {
		return err
	}
	if upgraded {
		logger.Warn("auto-upgraded RPC endpoint to a secure scheme", slog.String("scheme", secured.Scheme))
	}

	key, err := clientCfg.Signer(passphrase.NewSource(clientCfg.KeystorePassphraseEnv).Get)
	if err != nil {
		return err
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, clientCfg.RequestTimeout.Duration)
	client, err := token.Dial(dialCtx, secured.String(), key, clientCfg.ContractAddress,
		append(clientCfg.ClientOptions(), token.WithLogger(logger))...)
	cancelDial()
	if err != nil {
		return fmt.Errorf("connect token client: %w", err)
	}
	defer client.Close()
	logger.Info("token client ready", slog.String("signer", client.Account()))

	rateLimits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, entry := range cfg.RateLimits {
		rateLimits[entry.ID] = middleware.RateLimit{RequestsPerMinute: entry.RequestsPerMinute, Burst: entry.Burst}
	}

	router := routes.New(routes.Config{
		Token: client,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(rateLimits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
		WriteScope:     cfg.Auth.WriteScope,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	handler := router
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, cfg.Observability.ServiceName)
	}

	tlsConfig, err := buildTLSConfig(configDir, cfg.Security)
	if err != nil {
		return err
	}
	if tlsConfig == nil {
		if !allowInsecure {
			return errors.New("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(cfg.Environment, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			return errors.New("plaintext gateway mode is restricted to loopback listeners or the dev environment")
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    tlsConfig,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("gateway listening", slog.String("addr", scheme+"://"+listener.Addr().String()))
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolvePath(baseDir, sec.TLSCertFile)
	keyPath := resolvePath(baseDir, sec.TLSKeyFile)
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
