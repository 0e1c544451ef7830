package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration wraps time.Duration so TOML files can use strings like "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoggingConfig selects the log sink. An empty File logs to stdout.
type LoggingConfig struct {
	Service    string `toml:"Service"`
	Env        string `toml:"Env,omitempty"`
	Level      string `toml:"Level,omitempty"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty"`
}

// TelemetryConfig enables OTLP export of traces and metrics.
type TelemetryConfig struct {
	Endpoint string            `toml:"Endpoint,omitempty"`
	Insecure bool              `toml:"Insecure,omitempty"`
	Headers  map[string]string `toml:"Headers,omitempty"`
	Traces   bool              `toml:"Traces,omitempty"`
	Metrics  bool              `toml:"Metrics,omitempty"`
	// SampleRatio of root spans to keep; zero keeps all.
	SampleRatio float64 `toml:"SampleRatio,omitempty"`
}

// Enabled reports whether any exporter is switched on.
func (t TelemetryConfig) Enabled() bool {
	return t.Traces || t.Metrics
}
