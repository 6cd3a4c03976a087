// Package config loads the tradehost configuration from a YAML, JSON or
// TOML file with TRADEHOST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rustyeddy/tradehost/backtest"
	"github.com/rustyeddy/tradehost/connector"
	"github.com/rustyeddy/tradehost/internal/logging"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/sim"
	"github.com/rustyeddy/tradehost/strategies"
)

// EnvPrefix prefixes environment overrides: TRADEHOST_ACCOUNT_BALANCE sets
// account.balance.
const EnvPrefix = "TRADEHOST"

type Config struct {
	Account     AccountConfig           `mapstructure:"account" yaml:"account"`
	Backtest    BacktestConfig          `mapstructure:"backtest" yaml:"backtest"`
	Sim         sim.Config              `mapstructure:"sim" yaml:"sim"`
	Strategy    StrategyConfig          `mapstructure:"strategy" yaml:"strategy"`
	Journal     JournalConfig           `mapstructure:"journal" yaml:"journal"`
	Data        DataConfig              `mapstructure:"data" yaml:"data"`
	OANDA       OANDAConfig             `mapstructure:"oanda" yaml:"oanda"`
	Live        LiveConfig              `mapstructure:"live" yaml:"live"`
	Log         logging.Config          `mapstructure:"log" yaml:"log"`
	Instruments []market.InstrumentMeta `mapstructure:"instruments" yaml:"instruments,omitempty"`
}

type AccountConfig struct {
	Currency string  `mapstructure:"currency" yaml:"currency"`
	Balance  float64 `mapstructure:"balance" yaml:"balance"`
	Leverage int     `mapstructure:"leverage" yaml:"leverage"`
}

type BacktestConfig struct {
	Symbols    []string         `mapstructure:"symbols" yaml:"symbols"`
	TimeFrame  market.TimeFrame `mapstructure:"timeframe" yaml:"timeframe"`
	Start      time.Time        `mapstructure:"start" yaml:"start,omitempty"`
	End        time.Time        `mapstructure:"end" yaml:"end,omitempty"`
	Warmup     int              `mapstructure:"warmup" yaml:"warmup"`
	ChunkBars  int              `mapstructure:"chunk_bars" yaml:"chunk_bars"`
	Preload    int              `mapstructure:"preload" yaml:"preload"`
	CloseAtEnd bool             `mapstructure:"close_at_end" yaml:"close_at_end"`
}

type StrategyConfig struct {
	Name   string         `mapstructure:"name" yaml:"name"`
	Params map[string]any `mapstructure:"params" yaml:"params,omitempty"`
}

type JournalConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // sqlite, csv or none
	Path string `mapstructure:"path" yaml:"path"` // database file or CSV directory
}

type DataConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	Source  string `mapstructure:"source" yaml:"source"` // csv, oanda or dukascopy
	Cache   string `mapstructure:"cache" yaml:"cache"`     // dukascopy tick files
	Workers int    `mapstructure:"workers" yaml:"workers"` // parallel downloads
}

type OANDAConfig struct {
	Token     string `mapstructure:"token" yaml:"token"`
	AccountID string `mapstructure:"account_id" yaml:"account_id"`
	Env       string `mapstructure:"env" yaml:"env"`
}

type LiveConfig struct {
	URL            string                      `mapstructure:"url" yaml:"url"`
	Source         string                      `mapstructure:"source" yaml:"source"` // ws or oanda
	CommandTimeout time.Duration               `mapstructure:"command_timeout" yaml:"command_timeout"`
	ReconnectMin   time.Duration               `mapstructure:"reconnect_min" yaml:"reconnect_min"`
	ReconnectMax   time.Duration               `mapstructure:"reconnect_max" yaml:"reconnect_max"`
	Levels         connector.Levels            `mapstructure:"levels" yaml:"levels"`
	SymbolLevels   map[string]connector.Levels `mapstructure:"symbol_levels" yaml:"symbol_levels,omitempty"`
}

func Default() *Config {
	return &Config{
		Account: AccountConfig{Currency: "USD", Balance: 10_000, Leverage: 100},
		Backtest: BacktestConfig{
			Symbols:   []string{"EURUSD"},
			TimeFrame: market.H1,
			Warmup:    30,
			ChunkBars: 1000,
			Preload:   4,
		},
		Sim:      sim.DefaultConfig(),
		Strategy: StrategyConfig{Name: "ema-cross"},
		Journal:  JournalConfig{Type: "sqlite", Path: "tradehost.db"},
		Data: DataConfig{
			Dir:     "data",
			Pattern: "{symbol}_{tf}.csv",
			Source:  "csv",
			Cache:   "data/dukascopy",
			Workers: 4,
		},
		OANDA: OANDAConfig{Env: "practice"},
		Live: LiveConfig{
			Source:         "ws",
			CommandTimeout: 10 * time.Second,
			ReconnectMin:   time.Second,
			ReconnectMax:   30 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if len(c.Account.Currency) != 3 {
		add("account.currency must be a 3 letter code, got %q", c.Account.Currency)
	}
	if c.Account.Balance <= 0 {
		add("account.balance must be positive")
	}
	if c.Account.Leverage <= 0 {
		add("account.leverage must be positive")
	}

	if c.Backtest.TimeFrame.Duration() <= 0 {
		add("backtest.timeframe is required")
	}
	if !c.Backtest.Start.IsZero() && !c.Backtest.End.IsZero() && !c.Backtest.End.After(c.Backtest.Start) {
		add("backtest.end must be after backtest.start")
	}
	known := c.InstrumentMap()
	for _, s := range c.Backtest.Symbols {
		if _, ok := known[s]; !ok {
			add("backtest.symbols: unknown instrument %q", s)
		}
	}
	for _, m := range c.Instruments {
		if err := m.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Sim.SpreadFraction < 0 || c.Sim.SpreadFraction > 0.1 {
		add("sim.spread_fraction must be within [0, 0.1]")
	}
	if c.Sim.StopOutLevel < 0 {
		add("sim.stop_out_level must not be negative")
	}

	if c.Strategy.Name == "" {
		add("strategy.name is required")
	} else if _, err := c.StrategyParams(); err != nil {
		errs = append(errs, err)
	}

	switch c.Journal.Type {
	case "none":
	case "sqlite", "csv":
		if c.Journal.Path == "" {
			add("journal.path is required for %s", c.Journal.Type)
		}
	default:
		add("journal.type must be sqlite, csv or none, got %q", c.Journal.Type)
	}

	switch c.Data.Source {
	case "csv", "oanda", "dukascopy":
	default:
		add("data.source must be csv, oanda or dukascopy, got %q", c.Data.Source)
	}
	switch c.Live.Source {
	case "ws", "oanda":
	default:
		add("live.source must be ws or oanda, got %q", c.Live.Source)
	}
	if c.Live.ReconnectMax < c.Live.ReconnectMin {
		add("live.reconnect_max must not be below live.reconnect_min")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InstrumentMap is the built-in registry overlaid with the configured
// instruments.
func (c *Config) InstrumentMap() map[string]market.InstrumentMeta {
	m := market.Defaults()
	for _, in := range c.Instruments {
		m[in.Symbol] = in
	}
	return m
}

// StrategyParams decodes strategy.params over the strategy defaults.
func (c *Config) StrategyParams() (strategies.Params, error) {
	return strategies.DecodeParams(c.Strategy.Params)
}

func (c *Config) AccountSnapshot() market.Account {
	return market.Account{
		Currency: strings.ToUpper(c.Account.Currency),
		Leverage: c.Account.Leverage,
		Balance:  c.Account.Balance,
	}
}

// BacktestEngine returns the engine settings for [start, end).
func (c *Config) BacktestEngine() backtest.Config {
	return backtest.Config{
		Start:      c.Backtest.Start,
		End:        c.Backtest.End,
		Account:    c.AccountSnapshot(),
		Venue:      c.Sim,
		Warmup:     c.Backtest.Warmup,
		ChunkBars:  c.Backtest.ChunkBars,
		Preload:    c.Backtest.Preload,
		CloseAtEnd: c.Backtest.CloseAtEnd,
	}
}

// SaveToFile writes c as YAML, creating the directory.
func (c *Config) SaveToFile(path string) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
