package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Grid.Pair != "BTC/USDT" {
		t.Errorf("pair = %q", cfg.Grid.Pair)
	}
	if cfg.Grid.LevelsBelow != 4 || cfg.Grid.LevelsAbove != 4 {
		t.Errorf("levels = %d/%d", cfg.Grid.LevelsBelow, cfg.Grid.LevelsAbove)
	}
	if cfg.Grid.StepPercent != 0.005 {
		t.Errorf("step = %v", cfg.Grid.StepPercent)
	}
	if !cfg.Mock.Enabled {
		t.Error("mock should default to enabled")
	}
	if cfg.Mock.TickDelay != 500*time.Millisecond {
		t.Errorf("tick delay = %v", cfg.Mock.TickDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"grid": {
			"pair": "ETH/USDT",
			"base_price": 2000,
			"levels_below": 3,
			"levels_above": 5,
			"step_percent": 0.01,
			"per_order_qty": 0.05,
			"max_position_base": 1.5,
			"fee_rate": 0.002
		},
		"mock": {"enabled": false},
		"sessions": {
			"1": {
				"name": "okx-ord",
				"schema": "okx",
				"base_url": "https://www.okx.com",
				"api_key": "k",
				"secret_key": "s",
				"passphrase": "p",
				"orders_endpoint": "/api/v5/trade/order",
				"cancel_endpoint": "/api/v5/trade/cancel-order",
				"order_monitoring_interval": "2s",
				"simulated_trading": true,
				"td_mode": "cash"
			}
		},
		"logging": {"level": "debug", "format": "json"}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Grid.Pair != "ETH/USDT" || cfg.Grid.BasePrice != 2000 {
		t.Errorf("grid = %+v", cfg.Grid)
	}
	s, ok := cfg.Sessions["1"]
	if !ok {
		t.Fatal("session 1 missing")
	}
	if s.Schema != "okx" || !s.SimulatedTrading || s.TdMode != "cash" {
		t.Errorf("session = %+v", s)
	}
	if s.OrderMonitoringInterval != 2*time.Second {
		t.Errorf("monitoring interval = %v", s.OrderMonitoringInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("GRID_API_KEY", "env-key")
	t.Setenv("GRID_SECRET_KEY", "env-secret")

	cfg, err := Load(writeConfig(t, `{
		"sessions": {"1": {"name": "s", "schema": "okx", "api_key": "file-key", "secret_key": "file-secret"}}
	}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	s := cfg.Sessions["1"]
	if s.APIKey != "env-key" || s.SecretKey != "env-secret" {
		t.Errorf("env override not applied: %+v", s)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty pair", func(c *Config) { c.Grid.Pair = "" }},
		{"pair without separator", func(c *Config) { c.Grid.Pair = "BTCUSDT" }},
		{"negative levels", func(c *Config) { c.Grid.LevelsBelow = -1 }},
		{"zero step", func(c *Config) { c.Grid.StepPercent = 0 }},
		{"step of one", func(c *Config) { c.Grid.StepPercent = 1 }},
		{"zero qty", func(c *Config) { c.Grid.PerOrderQty = 0 }},
		{"negative base price", func(c *Config) { c.Grid.BasePrice = -1 }},
		{"fee of one", func(c *Config) { c.Grid.FeeRate = 1 }},
		{"partial min above max", func(c *Config) { c.Mock.PartialFillMin = 0.9; c.Mock.PartialFillMax = 0.1 }},
		{"live without sessions", func(c *Config) { c.Mock.Enabled = false; c.Sessions = nil }},
		{"session without schema", func(c *Config) {
			c.Sessions = map[string]SessionConfig{"1": {Name: "x"}}
		}},
		{"live session without keys", func(c *Config) {
			c.Mock.Enabled = false
			c.Sessions = map[string]SessionConfig{"1": {Name: "x", Schema: "okx"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, `{}`))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should have failed")
			}
		})
	}
}
