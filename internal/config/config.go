// Package config defines the runtime configuration for the feed, the paper
// trader and the offline tools.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hefsys/internal/adapter"
	"hefsys/internal/core"
	"hefsys/internal/features"
)

// Config is populated from built-in defaults, then a TOML file, then HEF_*
// environment variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed" split_words:"true"`
	Strategy  StrategyConfig  `toml:"strategy" split_words:"true"`
	Account   AccountConfig   `toml:"account" split_words:"true"`
	Model     ModelConfig     `toml:"model" split_words:"true"`
	Features  FeaturesConfig  `toml:"features" split_words:"true"`
	Loop      LoopConfig      `toml:"loop" split_words:"true"`
	Journal   JournalConfig   `toml:"journal" split_words:"true"`
	Telemetry TelemetryConfig `toml:"telemetry" split_words:"true"`
	Dataset   DatasetConfig   `toml:"dataset" split_words:"true"`
	LogLevel  string          `toml:"log_level" split_words:"true"`
	LogPretty bool            `toml:"log_pretty" split_words:"true"`
}

type FeedConfig struct {
	Venue          string        `toml:"venue" split_words:"true"`
	Symbol         string        `toml:"symbol" split_words:"true"`
	URL            string        `toml:"url" split_words:"true"`
	MaxRetries     int           `toml:"max_retries" split_words:"true"`
	BackoffInitial time.Duration `toml:"backoff_initial" split_words:"true"`
	BackoffMax     time.Duration `toml:"backoff_max" split_words:"true"`
	BackoffFactor  float64       `toml:"backoff_factor" split_words:"true"`
	Buffer         int           `toml:"buffer" split_words:"true"`
}

type StrategyConfig struct {
	BuyThreshold float64       `toml:"buy_threshold" split_words:"true"`
	TakeProfit   float64       `toml:"take_profit" split_words:"true"`
	StopLoss     float64       `toml:"stop_loss" split_words:"true"`
	MaxHold      time.Duration `toml:"max_hold" split_words:"true"`
}

type AccountConfig struct {
	InitialCash float64 `toml:"initial_cash" split_words:"true"`
	TakerFee    float64 `toml:"taker_fee" split_words:"true"`
}

type ModelConfig struct {
	Path          string `toml:"path" split_words:"true"`
	LibPath       string `toml:"lib_path" split_words:"true"`
	InputName     string `toml:"input_name" split_words:"true"`
	OutputName    string `toml:"output_name" split_words:"true"`
	Classes       int    `toml:"classes" split_words:"true"`
	PositiveClass int    `toml:"positive_class" split_words:"true"`
}

type FeaturesConfig struct {
	HistoryCap int `toml:"history_cap" split_words:"true"`
}

type LoopConfig struct {
	StatusInterval time.Duration `toml:"status_interval" split_words:"true"`
}

type JournalConfig struct {
	Kind string `toml:"kind" split_words:"true"` // none, jsonl, postgres
	Path string `toml:"path" split_words:"true"`
	DSN  string `toml:"dsn" split_words:"true"`
}

type TelemetryConfig struct {
	MetricsAddr    string `toml:"metrics_addr" split_words:"true"`
	HubAddr        string `toml:"hub_addr" split_words:"true"`
	DiscordWebhook string `toml:"discord_webhook" split_words:"true"`
	RedisAddr      string `toml:"redis_addr" split_words:"true"`
	RedisPassword  string `toml:"redis_password" split_words:"true"`
	RedisChannel   string `toml:"redis_channel" split_words:"true"`
}

type DatasetConfig struct {
	Dir            string  `toml:"dir" split_words:"true"`
	Days           int     `toml:"days" split_words:"true"`
	Horizon        int     `toml:"horizon" split_words:"true"`
	LabelThreshold float64 `toml:"label_threshold" split_words:"true"` // 0 follows account.taker_fee
	Output         string  `toml:"output" split_words:"true"`
}

// Defaults returns a Config with the reference simulator's parameters.
func Defaults() Config {
	strat := core.DefaultStrategyConfig()
	model := features.DefaultModelConfig()
	backoff := adapter.DefaultBackoff()
	label := features.DefaultLabelConfig(0)
	return Config{
		Feed: FeedConfig{
			Venue:          "okx",
			Symbol:         "BTC-USDT",
			MaxRetries:     backoff.MaxRetries,
			BackoffInitial: backoff.Initial,
			BackoffMax:     backoff.Max,
			BackoffFactor:  backoff.Factor,
			Buffer:         4096,
		},
		Strategy: StrategyConfig{
			BuyThreshold: strat.BuyThreshold,
			TakeProfit:   strat.TakeProfit,
			StopLoss:     strat.StopLoss,
			MaxHold:      strat.MaxHold,
		},
		Account: AccountConfig{InitialCash: 1000, TakerFee: 0.0005},
		Model: ModelConfig{
			Path:          "models/model.onnx",
			InputName:     model.InputName,
			OutputName:    model.OutputName,
			Classes:       model.Classes,
			PositiveClass: model.PositiveClass,
		},
		Features:  FeaturesConfig{HistoryCap: 100},
		Loop:      LoopConfig{StatusInterval: 10 * time.Second},
		Journal:   JournalConfig{Kind: "jsonl", Path: "data/fills.jsonl"},
		Telemetry: TelemetryConfig{RedisChannel: "hef:events"},
		Dataset: DatasetConfig{
			Dir:     "data/ticks",
			Days:    3,
			Horizon: label.Horizon,
			Output:  "data/training.csv",
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Feed.Venue) {
	case "okx", "binance":
	default:
		errs = append(errs, fmt.Sprintf("feed: unknown venue %q (valid: okx, binance)", c.Feed.Venue))
	}
	if c.Feed.Symbol == "" {
		errs = append(errs, "feed: symbol must not be empty")
	}
	if c.Feed.MaxRetries < 1 {
		errs = append(errs, "feed: max_retries must be at least 1")
	}
	if c.Feed.BackoffInitial <= 0 || c.Feed.BackoffMax < c.Feed.BackoffInitial {
		errs = append(errs, "feed: need 0 < backoff_initial <= backoff_max")
	}
	if c.Feed.BackoffFactor < 1 {
		errs = append(errs, "feed: backoff_factor must be >= 1")
	}

	if c.Strategy.BuyThreshold < 0 || c.Strategy.BuyThreshold >= 1 {
		errs = append(errs, "strategy: buy_threshold must be in [0, 1)")
	}
	if c.Strategy.TakeProfit <= 0 {
		errs = append(errs, "strategy: take_profit must be positive")
	}
	if c.Strategy.StopLoss >= 0 {
		errs = append(errs, "strategy: stop_loss must be negative")
	}
	if c.Strategy.MaxHold <= 0 {
		errs = append(errs, "strategy: max_hold must be positive")
	}

	if c.Account.InitialCash <= 0 {
		errs = append(errs, "account: initial_cash must be positive")
	}
	if c.Account.TakerFee < 0 || c.Account.TakerFee >= 1 {
		errs = append(errs, "account: taker_fee must be in [0, 1)")
	}

	if c.Model.Classes < 2 || c.Model.PositiveClass < 0 || c.Model.PositiveClass >= c.Model.Classes {
		errs = append(errs, "model: positive_class must index one of at least 2 classes")
	}
	if c.Features.HistoryCap < core.MinHistory {
		errs = append(errs, fmt.Sprintf("features: history_cap must be at least %d", core.MinHistory))
	}
	if c.Loop.StatusInterval < 0 {
		errs = append(errs, "loop: status_interval must not be negative")
	}

	switch c.Journal.Kind {
	case "", "none":
	case "jsonl":
		if c.Journal.Path == "" {
			errs = append(errs, "journal: path is required for jsonl")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			errs = append(errs, "journal: dsn is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("journal: unknown kind %q (valid: none, jsonl, postgres)", c.Journal.Kind))
	}

	if c.Dataset.Horizon < 1 {
		errs = append(errs, "dataset: horizon must be at least 1")
	}
	if c.Dataset.LabelThreshold < 0 {
		errs = append(errs, "dataset: label_threshold must not be negative")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// StrategyParams converts the section into the position machine's config.
func (c *Config) StrategyParams() core.StrategyConfig {
	return core.StrategyConfig{
		BuyThreshold: c.Strategy.BuyThreshold,
		TakeProfit:   c.Strategy.TakeProfit,
		StopLoss:     c.Strategy.StopLoss,
		MaxHold:      c.Strategy.MaxHold,
	}
}

func (c *Config) ModelParams() features.ModelConfig {
	return features.ModelConfig{
		Path:          c.Model.Path,
		LibPath:       c.Model.LibPath,
		InputName:     c.Model.InputName,
		OutputName:    c.Model.OutputName,
		Classes:       c.Model.Classes,
		PositiveClass: c.Model.PositiveClass,
	}
}

func (c *Config) Backoff() adapter.Backoff {
	return adapter.Backoff{
		Initial:    c.Feed.BackoffInitial,
		Max:        c.Feed.BackoffMax,
		Factor:     c.Feed.BackoffFactor,
		MaxRetries: c.Feed.MaxRetries,
	}
}

// LabelParams returns the labeling target. Without an explicit threshold the
// label has to clear the configured taker fee.
func (c *Config) LabelParams() features.LabelConfig {
	label := features.DefaultLabelConfig(c.Account.TakerFee)
	label.Horizon = c.Dataset.Horizon
	if c.Dataset.LabelThreshold > 0 {
		label.Threshold = c.Dataset.LabelThreshold
	}
	return label
}
