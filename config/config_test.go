package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradehost/connector"
	"github.com/rustyeddy/tradehost/market"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"currency", func(c *Config) { c.Account.Currency = "US" }, "account.currency"},
		{"balance", func(c *Config) { c.Account.Balance = 0 }, "account.balance"},
		{"range", func(c *Config) {
			c.Backtest.Start = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			c.Backtest.End = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}, "backtest.end"},
		{"symbol", func(c *Config) { c.Backtest.Symbols = []string{"XAUUSD"} }, "XAUUSD"},
		{"journal", func(c *Config) { c.Journal.Type = "mongo" }, "journal.type"},
		{"journal path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"strategy", func(c *Config) { c.Strategy.Name = "" }, "strategy.name"},
		{"params", func(c *Config) { c.Strategy.Params = map[string]any{"bogus": 1} }, "bogus"},
		{"live source", func(c *Config) { c.Live.Source = "fix" }, "live.source"},
		{"reconnect", func(c *Config) { c.Live.ReconnectMax = time.Millisecond }, "reconnect_max"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()
	c := Default()
	c.Account.Balance = -1
	c.Journal.Type = "mongo"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account.balance")
	assert.Contains(t, err.Error(), "journal.type")
}

func TestCustomInstrument(t *testing.T) {
	t.Parallel()
	c := Default()
	c.Backtest.Symbols = []string{"XAUUSD"}
	c.Instruments = []market.InstrumentMeta{{
		Symbol: "XAUUSD", BaseCurrency: "XAU", QuoteCurrency: "USD",
		Digits: 2, ContractSize: 100, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01,
	}}
	require.NoError(t, c.Validate())
	assert.Equal(t, 2, c.InstrumentMap()["XAUUSD"].Digits)
	assert.Contains(t, c.InstrumentMap(), "EURUSD")
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "tradehost.yaml", `
account:
  currency: eur
  balance: 5000
backtest:
  symbols: [gbpusd, EURUSD]
  timeframe: M15
  start: 2024-01-01
  end: 2024-03-01T12:00:00Z
  close_at_end: true
strategy:
  name: ema-cross
  params:
    fast: 5
    slow: 20
    risk_pct: 0.01
journal:
  type: csv
  path: out
live:
  command_timeout: 3s
  symbol_levels:
    EURUSD: {stop: 10, freeze: 5}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.Account.Currency)
	assert.Equal(t, 5000.0, cfg.Account.Balance)
	assert.Equal(t, 100, cfg.Account.Leverage, "default kept")
	assert.Equal(t, []string{"GBPUSD", "EURUSD"}, cfg.Backtest.Symbols)
	assert.Equal(t, market.M15, cfg.Backtest.TimeFrame)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Backtest.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), cfg.Backtest.End)
	assert.True(t, cfg.Backtest.CloseAtEnd)
	assert.Equal(t, 1000, cfg.Backtest.ChunkBars, "default kept")
	assert.Equal(t, "csv", cfg.Journal.Type)
	assert.Equal(t, 3*time.Second, cfg.Live.CommandTimeout)
	assert.Equal(t, 30*time.Second, cfg.Live.ReconnectMax)
	assert.Equal(t, connector.Levels{Stop: 10, Freeze: 5}, cfg.Live.SymbolLevels["EURUSD"])
	assert.Equal(t, 256, cfg.Sim.CacheSize)

	p, err := cfg.StrategyParams()
	require.NoError(t, err)
	assert.Equal(t, 5, p.Fast)
	assert.Equal(t, 20, p.Slow)
	assert.Equal(t, 0.01, p.RiskPct)

	bt := cfg.BacktestEngine()
	assert.Equal(t, cfg.Backtest.Start, bt.Start)
	assert.Equal(t, "EUR", bt.Account.Currency)
	assert.Equal(t, 5000.0, bt.Account.Balance)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, "bad.yaml", "backtest:\n  start: yesterday\n")
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yesterday")

	invalid := writeFile(t, "invalid.yaml", "journal:\n  type: mongo\n")
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("TRADEHOST_ACCOUNT_BALANCE", "2500")
	t.Setenv("TRADEHOST_BACKTEST_SYMBOLS", "USDJPY,AUDUSD")
	t.Setenv("TRADEHOST_LOG_LEVEL", "debug")

	path := writeFile(t, "tradehost.yaml", "account:\n  balance: 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, cfg.Account.Balance, "environment beats file")
	assert.Equal(t, []string{"USDJPY", "AUDUSD"}, cfg.Backtest.Symbols)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	want := Default()
	want.Backtest.Start = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	want.Backtest.End = time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	want.Backtest.TimeFrame = market.H4
	want.Live.SymbolLevels = map[string]connector.Levels{"EURUSD": {Stop: 3, Freeze: 1}}

	path := filepath.Join(t.TempDir(), "nested", "tradehost.yaml")
	require.NoError(t, want.SaveToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeframe: H4")
	assert.Contains(t, string(data), "command_timeout: 10s")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWatch(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "tradehost.yaml", "account:\n  balance: 1000\n")
	l, err := NewLoader(path)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cfg.Account.Balance)

	got := make(chan float64, 8)
	require.NoError(t, l.Watch(func(c *Config, err error) {
		if err == nil {
			got <- c.Account.Balance
		}
	}))
	require.NoError(t, os.WriteFile(path, []byte("account:\n  balance: 2000\n"), 0o644))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case b := <-got:
			if b == 2000 {
				assert.Equal(t, 2000.0, l.Current().Account.Balance)
				return
			}
		case <-timeout:
			t.Fatal("no reload after the file changed")
		}
	}
}
