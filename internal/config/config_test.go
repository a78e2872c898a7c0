package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	s := cfg.StrategyParams()
	assert.Equal(t, 0.5, s.BuyThreshold)
	assert.Equal(t, 0.002, s.TakeProfit)
	assert.Equal(t, -0.001, s.StopLoss)
	assert.Equal(t, 30*time.Second, s.MaxHold)
	assert.Equal(t, 1, cfg.ModelParams().PositiveClass)
	assert.InDelta(t, 0.0006, cfg.LabelParams().Threshold, 1e-15)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hef.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[feed]
venue = "binance"
symbol = "BTCUSDT"

[strategy]
take_profit = 0.003
max_hold = "45s"

[journal]
kind = "none"
`), 0o644))

	t.Setenv("HEF_STRATEGY_BUY_THRESHOLD", "0.6")
	t.Setenv("HEF_TELEMETRY_METRICS_ADDR", ":9105")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "binance", cfg.Feed.Venue)
	assert.Equal(t, "BTCUSDT", cfg.Feed.Symbol)
	assert.Equal(t, 0.003, cfg.Strategy.TakeProfit)
	assert.Equal(t, 45*time.Second, cfg.Strategy.MaxHold)
	assert.Equal(t, 0.6, cfg.Strategy.BuyThreshold)
	assert.Equal(t, ":9105", cfg.Telemetry.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched sections keep their defaults
	assert.Equal(t, -0.001, cfg.Strategy.StopLoss)
	assert.Equal(t, "models/model.onnx", cfg.Model.Path)
}

func TestLabelThresholdFollowsTakerFee(t *testing.T) {
	t.Setenv("HEF_ACCOUNT_TAKER_FEE", "0.001")
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 0.0011, cfg.LabelParams().Threshold, 1e-15)
	assert.Equal(t, 10, cfg.LabelParams().Horizon)

	cfg.Dataset.LabelThreshold = 0.002
	assert.Equal(t, 0.002, cfg.LabelParams().Threshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"venue":       func(c *Config) { c.Feed.Venue = "kraken" },
		"stop loss":   func(c *Config) { c.Strategy.StopLoss = 0.001 },
		"threshold":   func(c *Config) { c.Strategy.BuyThreshold = 1 },
		"cash":        func(c *Config) { c.Account.InitialCash = 0 },
		"history":     func(c *Config) { c.Features.HistoryCap = 10 },
		"class":       func(c *Config) { c.Model.PositiveClass = 2 },
		"journal":     func(c *Config) { c.Journal.Kind = "postgres" },
		"log level":   func(c *Config) { c.LogLevel = "loud" },
		"backoff":     func(c *Config) { c.Feed.BackoffMax = time.Millisecond },
		"retries":     func(c *Config) { c.Feed.MaxRetries = 0 },
		"horizon":     func(c *Config) { c.Dataset.Horizon = 0 },
		"fee":         func(c *Config) { c.Account.TakerFee = -0.1 },
		"max hold":    func(c *Config) { c.Strategy.MaxHold = 0 },
		"take profit": func(c *Config) { c.Strategy.TakeProfit = 0 },
		"label":       func(c *Config) { c.Dataset.LabelThreshold = -0.001 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
