package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestSetupWithOptionsShapesRecords(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(previous)
		log.SetOutput(os.Stderr)
	})

	buf := &bytes.Buffer{}
	logger, closer := SetupWithOptions(Options{Service: "loyalty-cli", Env: "test", Level: "warn", Output: buf})
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("transaction reverted", slog.String("method", "transfer"), slog.String("reason", "ERC20: insufficient allowance"))

	entries := decodeLines(t, buf.Bytes())
	if len(entries) != 1 {
		t.Fatalf("expected only the warn record, got %d: %s", len(entries), buf.String())
	}
	entry := entries[0]
	if entry["severity"] != "WARN" || entry["message"] != "transaction reverted" {
		t.Fatalf("unexpected record shape: %v", entry)
	}
	if entry["service"] != "loyalty-cli" || entry["env"] != "test" {
		t.Fatalf("missing service attributes: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("timestamp key not renamed: %v", entry)
	}
}

func TestSensitiveKeysAreAlwaysMasked(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(previous)
		log.SetOutput(os.Stderr)
	})

	buf := &bytes.Buffer{}
	logger, _ := SetupWithOptions(Options{Service: "loyalty-gateway", Output: buf})
	secret := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	logger.Error("leak attempt", slog.String("private_key", secret), slog.String("Passphrase", "hunter2"))

	if bytes.Contains(buf.Bytes(), []byte(secret)) || bytes.Contains(buf.Bytes(), []byte("hunter2")) {
		t.Fatalf("log output leaked secret material: %s", buf.String())
	}
	entry := decodeLines(t, buf.Bytes())[0]
	if entry["private_key"] != RedactedValue {
		t.Fatalf("expected redacted private key, got %v", entry["private_key"])
	}
}

func TestSetupWithOptionsWritesRotatingFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(previous)
		log.SetOutput(os.Stderr)
	})

	path := filepath.Join(t.TempDir(), "logs", "client.log")
	logger, closer := SetupWithOptions(Options{Service: "loyalty-cli", File: path})
	logger.Info("transaction confirmed", slog.String("tx", "0xabc"))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"transaction confirmed"`) {
		t.Fatalf("unexpected file contents: %s", raw)
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("signer_key", "0xdeadbeef"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %q", attr.Value.String())
	}
	if attr := MaskField("contract", "0x5FbDB2315678afecb367f032d93F642f64180aa3"); attr.Value.String() == RedactedValue {
		t.Fatalf("allowlisted key should not be redacted")
	}
	if attr := MaskField("seed", "  "); attr.Value.String() != "  " {
		t.Fatalf("empty values should pass through")
	}
	if IsAllowlisted("signer_key") {
		t.Fatalf("signer_key must not be allowlisted: %v", RedactionAllowlist())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
