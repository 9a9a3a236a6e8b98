// Package config defines all configuration for the grid bot.
// Config is loaded from a JSON or YAML file (default: configs/config.json)
// with sensitive fields overridable via GRID_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the file structure.
type Config struct {
	Grid     GridConfig               `mapstructure:"grid"`
	Mock     MockConfig               `mapstructure:"mock"`
	Sessions map[string]SessionConfig `mapstructure:"sessions"`
	Logging  LoggingConfig            `mapstructure:"logging"`
}

// GridConfig tunes the ladder the strategy maintains.
//
//   - Pair: the traded instrument as "BASE/QUOTE".
//   - BasePrice: ladder centre. In live mode the order-book mid replaces it at
//     startup when it is zero or a market-data feed is configured; mock mode
//     requires it to be set.
//   - LevelsBelow/LevelsAbove: buy and sell rungs either side of the base.
//   - StepPercent: fractional distance between adjacent rungs (0.005 = 0.5%).
//   - PerOrderQty: base-asset quantity per rung.
//   - MaxPositionBase: inventory cap in the base asset; hedge sells are
//     skipped while inventory exceeds it.
//   - FeeRate: fraction charged on each fill.
type GridConfig struct {
	Pair            string  `mapstructure:"pair"`
	BasePrice       float64 `mapstructure:"base_price"`
	LevelsBelow     int     `mapstructure:"levels_below"`
	LevelsAbove     int     `mapstructure:"levels_above"`
	StepPercent     float64 `mapstructure:"step_percent"`
	PerOrderQty     float64 `mapstructure:"per_order_qty"`
	MaxPositionBase float64 `mapstructure:"max_position_base"`
	FeeRate         float64 `mapstructure:"fee_rate"`

	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// MockConfig drives the in-memory matching engine and its price simulator.
type MockConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	InitialQuote   float64       `mapstructure:"initial_quote"`
	InitialBase    float64       `mapstructure:"initial_base"`
	PartialFillMin float64       `mapstructure:"partial_fill_min_pct"`
	PartialFillMax float64       `mapstructure:"partial_fill_max_pct"`
	SlippageMaxPct float64       `mapstructure:"slippage_max_pct"`
	TickDelay      time.Duration `mapstructure:"tick_delay"`
	SimulateTicks  int           `mapstructure:"simulate_ticks"`
	Seed           int64         `mapstructure:"seed"`
}

// SessionConfig is one venue session, keyed by numeric session id in the
// sessions map.
type SessionConfig struct {
	Name                    string        `mapstructure:"name"`
	Schema                  string        `mapstructure:"schema"`
	BaseURL                 string        `mapstructure:"base_url"`
	APIKey                  string        `mapstructure:"api_key"`
	SecretKey               string        `mapstructure:"secret_key"`
	Passphrase              string        `mapstructure:"passphrase"`
	OrdersEndpoint          string        `mapstructure:"orders_endpoint"`
	CancelEndpoint          string        `mapstructure:"cancel_endpoint"`
	SystemTimeEndpoint      string        `mapstructure:"system_time_endpoint"`
	RecvWindowMs            int64         `mapstructure:"recv_window_ms"`
	SimulatedTrading        bool          `mapstructure:"simulated_trading"`
	TdMode                  string        `mapstructure:"td_mode"`
	OrderMonitoringInterval time.Duration `mapstructure:"order_monitoring_interval"`
	MarketDataWSURL         string        `mapstructure:"market_data_ws_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a file with env var overrides.
// Sensitive fields use env vars: GRID_API_KEY, GRID_SECRET_KEY, GRID_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env for every session.
	if key := os.Getenv("GRID_API_KEY"); key != "" {
		for id, s := range cfg.Sessions {
			s.APIKey = key
			cfg.Sessions[id] = s
		}
	}
	if secret := os.Getenv("GRID_SECRET_KEY"); secret != "" {
		for id, s := range cfg.Sessions {
			s.SecretKey = secret
			cfg.Sessions[id] = s
		}
	}
	if pass := os.Getenv("GRID_PASSPHRASE"); pass != "" {
		for id, s := range cfg.Sessions {
			s.Passphrase = pass
			cfg.Sessions[id] = s
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("grid.pair", "BTC/USDT")
	v.SetDefault("grid.base_price", 30000.0)
	v.SetDefault("grid.levels_below", 4)
	v.SetDefault("grid.levels_above", 4)
	v.SetDefault("grid.step_percent", 0.005)
	v.SetDefault("grid.per_order_qty", 0.001)
	v.SetDefault("grid.max_position_base", 2.0)
	v.SetDefault("grid.fee_rate", 0.001)
	v.SetDefault("grid.tick_interval", "500ms")
	v.SetDefault("mock.enabled", true)
	v.SetDefault("mock.initial_quote", 10000.0)
	v.SetDefault("mock.initial_base", 0.1)
	v.SetDefault("mock.partial_fill_min_pct", 0.3)
	v.SetDefault("mock.partial_fill_max_pct", 1.0)
	v.SetDefault("mock.slippage_max_pct", 0.002)
	v.SetDefault("mock.tick_delay", "500ms")
	v.SetDefault("mock.simulate_ticks", 200)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	g := c.Grid
	if g.Pair == "" {
		return fmt.Errorf("grid.pair is required")
	}
	if !strings.Contains(g.Pair, "/") {
		return fmt.Errorf("grid.pair must be BASE/QUOTE, got %q", g.Pair)
	}
	if g.LevelsBelow < 0 || g.LevelsAbove < 0 {
		return fmt.Errorf("grid levels must be >= 0")
	}
	if g.StepPercent <= 0 || g.StepPercent >= 1 {
		return fmt.Errorf("grid.step_percent must be in (0, 1), got %v", g.StepPercent)
	}
	if g.PerOrderQty <= 0 {
		return fmt.Errorf("grid.per_order_qty must be > 0")
	}
	if g.BasePrice < 0 {
		return fmt.Errorf("grid.base_price must be >= 0")
	}
	if c.Mock.Enabled && g.BasePrice == 0 {
		return fmt.Errorf("grid.base_price is required in mock mode (no order book to price from)")
	}
	if g.MaxPositionBase < 0 {
		return fmt.Errorf("grid.max_position_base must be >= 0")
	}
	if g.FeeRate < 0 || g.FeeRate >= 1 {
		return fmt.Errorf("grid.fee_rate must be in [0, 1), got %v", g.FeeRate)
	}
	if c.Mock.PartialFillMin > c.Mock.PartialFillMax {
		return fmt.Errorf("mock.partial_fill_min_pct exceeds max")
	}
	if !c.Mock.Enabled && len(c.Sessions) == 0 {
		return fmt.Errorf("at least one session is required when mock is disabled")
	}
	for id, s := range c.Sessions {
		if s.Schema == "" {
			return fmt.Errorf("sessions.%s.schema is required", id)
		}
		if !c.Mock.Enabled && (s.APIKey == "" || s.SecretKey == "") {
			return fmt.Errorf("sessions.%s: api_key and secret_key are required (set GRID_API_KEY / GRID_SECRET_KEY)", id)
		}
	}
	return nil
}
