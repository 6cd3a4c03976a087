package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradehost/backtest"
	"github.com/rustyeddy/tradehost/market"
)

// execute runs the CLI with args. The commands share package state, so
// these tests do not run in parallel.
func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tradehost.yaml")

	out := execute(t, "config", "init", "-o", path, "--log-level", "error")
	assert.Contains(t, out, "Created default configuration")
	require.FileExists(t, path)

	out = execute(t, "config", "validate", "-c", path, "--log-level", "error")
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "ema-cross")

	out = execute(t, "config", "show", "-c", path, "--log-level", "error")
	assert.Contains(t, out, "timeframe: H1")
}

func TestBacktestAndJournal(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []market.Rate
	for i := range 96 {
		px := 1.1 + float64(i%12)*0.0005
		bars = append(bars, market.Rate{
			Time: t0.Add(time.Duration(i) * time.Hour),
			Open: px, High: px + 0.0008, Low: px - 0.0004, Close: px + 0.0002,
			TickVolume: 100, Spread: 10,
		})
	}
	f, err := os.Create(filepath.Join(data, "EURUSD_H1.csv"))
	require.NoError(t, err)
	require.NoError(t, backtest.WriteCSV(f, bars))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, "tradehost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
backtest:
  symbols: [EURUSD]
  timeframe: H1
  start: 2024-01-02
  end: 2024-01-04
  warmup: 5
strategy:
  name: noop
journal:
  type: sqlite
  path: %s
data:
  dir: %s
log:
  level: error
`, filepath.Join(dir, "journal.db"), data)), 0o644))

	out := execute(t, "backtest", "-c", path)
	assert.Contains(t, out, "Backtest Result")
	assert.Contains(t, out, "noop")

	out = execute(t, "journal", "runs", "-c", path)
	assert.Contains(t, out, "noop")
	assert.Contains(t, out, "EURUSD")
}

func TestStrategiesCommand(t *testing.T) {
	out := execute(t, "strategies", "--log-level", "error")
	assert.Contains(t, out, "ema-cross")
	assert.Contains(t, out, "open-once")
}

func TestDayBounds(t *testing.T) {
	start, end, err := dayBounds("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, err = dayBounds("15/01/2024")
	assert.Error(t, err)
}
