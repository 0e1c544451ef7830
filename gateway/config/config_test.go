package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	path := writeConfig(t, "auth:\n  hmacSecret: s3cret\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if cfg.Auth.WriteScope != DefaultWriteScope {
		t.Fatalf("expected write scope %q, got %q", DefaultWriteScope, cfg.Auth.WriteScope)
	}
	if cfg.Auth.ScopeClaim != "scope" || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("auth defaults not applied: %+v", cfg.Auth)
	}
	if _, ok := cfg.RateLimit("write"); !ok {
		t.Fatalf("expected default write rate limit")
	}
}

func TestLoadRequiresSecretWhenAuthEnabled(t *testing.T) {
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "hmacSecret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestLoadReadsSecretFromEnv(t *testing.T) {
	t.Setenv("LOYALTY_GATEWAY_SECRET", "from-env")
	path := writeConfig(t, "auth:\n  enabled: true\n  hmacSecretEnv: LOYALTY_GATEWAY_SECRET\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.HMACSecret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.Auth.HMACSecret)
	}
}

func TestLoadRequiresExplicitAuthForProduction(t *testing.T) {
	path := writeConfig(t, "environment: prod\nauth:\n  hmacSecret: s3cret\n")
	if _, err := Load(path); !errors.Is(err, ErrAuthEnabledNotConfigured) {
		t.Fatalf("expected ErrAuthEnabledNotConfigured, got %v", err)
	}
}

func TestLoadAllowsExplicitAuthDisabledForSensitiveTLSConfig(t *testing.T) {
	yaml := "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("expected auth disabled")
	}
}

func TestLoadParsesGatewaySettings(t *testing.T) {
	yaml := `environment: dev
listen: ":9090"
readTimeout: 5s
requestTimeout: 45s
clientConfig: /etc/loyalty/client.toml
rateLimits:
  - id: read
    requestsPerMinute: 120
    burst: 20
auth:
  enabled: false
cors:
  allowedOrigins: ["https://app.example"]
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9090" || cfg.ReadTimeout != 5*time.Second || cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("unexpected server settings: %+v", cfg)
	}
	if cfg.ClientConfig != "/etc/loyalty/client.toml" {
		t.Fatalf("unexpected client config path %q", cfg.ClientConfig)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].Burst != 20 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimits)
	}
	if _, ok := cfg.RateLimit("write"); ok {
		t.Fatalf("explicit rate limits replace the defaults")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORS)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unknown field":     "auth:\n  enabled: false\nlistenAddr: \":1\"\n",
		"duplicate limit":   "auth:\n  enabled: false\nrateLimits:\n  - {id: read, requestsPerMinute: 1}\n  - {id: read, requestsPerMinute: 2}\n",
		"zero rate":         "auth:\n  enabled: false\nrateLimits:\n  - {id: read, requestsPerMinute: 0}\n",
		"half tls":          "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /tmp/cert.pem\n",
		"empty cors origin": "auth:\n  enabled: false\ncors:\n  allowedOrigins: [\" \"]\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, yaml)); err == nil {
				t.Fatalf("expected load to fail")
			}
		})
	}
}

func TestEnforceSecureScheme(t *testing.T) {
	mustParse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		return u
	}

	if _, _, err := EnforceSecureScheme("prod", mustParse("http://node:8545"), false); err == nil {
		t.Fatalf("expected plaintext endpoint to be rejected in prod")
	}
	upgraded, changed, err := EnforceSecureScheme("prod", mustParse("ws://node:8546"), true)
	if err != nil || !changed || upgraded.Scheme != "wss" {
		t.Fatalf("expected ws upgrade, got %v %v %v", upgraded, changed, err)
	}
	if _, changed, err := EnforceSecureScheme("dev", mustParse("http://127.0.0.1:8545"), true); err != nil || changed {
		t.Fatalf("dev should allow plaintext untouched, got %v %v", changed, err)
	}
	if _, _, err := EnforceSecureScheme("prod", mustParse("ftp://node"), false); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestLoadProductionWithoutAuthSection(t *testing.T) {
	path := writeConfig(t, "environment: prod\n")
	if _, err := Load(path); !errors.Is(err, ErrAuthEnabledNotConfigured) {
		t.Fatalf("expected ErrAuthEnabledNotConfigured, got %v", err)
	}
}
