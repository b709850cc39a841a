package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trading-assistant/pkg/secrets"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assistant.yaml")
	body := `
transport:
  kind: ws
  url: ws://host.example/ws
trading:
  max_positions: 3
  max_risk_percent: 2
  default_risk_percent: 1
chart:
  max_points: 300
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TA_CHART_MAX_POINTS", "120")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Kind != "ws" || cfg.Transport.URL != "ws://host.example/ws" {
		t.Fatalf("transport not loaded: %+v", cfg.Transport)
	}
	if cfg.Trading.MaxPositions != 3 {
		t.Fatalf("MaxPositions=%d, expected 3", cfg.Trading.MaxPositions)
	}
	if cfg.Chart.MaxPoints != 120 {
		t.Fatalf("MaxPoints=%d, expected env override 120", cfg.Chart.MaxPoints)
	}
	// untouched keys keep their defaults
	if cfg.Trading.MinVolume != Default().Trading.MinVolume {
		t.Fatalf("MinVolume=%v, expected default", cfg.Trading.MinVolume)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"transport kind", func(c *Config) { c.Transport.Kind = "fix" }, "transport.kind"},
		{"volume range", func(c *Config) { c.Trading.MinVolume = 5; c.Trading.MaxVolume = 1 }, "volume range"},
		{"attempts", func(c *Config) { c.Connection.MaxReconnectAttempts = 0 }, "max_reconnect_attempts"},
		{"chart bound", func(c *Config) { c.Chart.MaxPoints = 1 }, "max_points"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate()=%v, expected mention of %q", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTripKeepsIndicators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Indicators = []IndicatorSpec{{Name: "fast", Kind: "ema", Period: 9}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Indicators) != 1 || loaded.Indicators[0].Name != "fast" {
		t.Fatalf("indicators=%+v", loaded.Indicators)
	}
}

func TestLoadUnsealsSecrets(t *testing.T) {
	key := make([]byte, secrets.KeySize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	ring, err := secrets.NewKeyring(map[int][]byte{1: key})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	sealed, err := ring.Seal("jwt-in-clear")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	t.Setenv("TA_API_JWT_SECRET", sealed)

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "api.jwt_secret") {
		t.Fatalf("Load without master key: err=%v", err)
	}

	t.Setenv(secrets.MasterKeyEnv, base64.StdEncoding.EncodeToString(key))
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.JWTSecret != "jwt-in-clear" {
		t.Fatalf("JWTSecret=%q, expected unsealed value", cfg.API.JWTSecret)
	}
}
