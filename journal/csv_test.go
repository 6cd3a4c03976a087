package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVHeaders(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	j, err := NewCSV(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{dealHeader}, readCSV(t, filepath.Join(dir, "deals.csv")))
	assert.Equal(t, [][]string{equityHeader}, readCSV(t, filepath.Join(dir, "equity.csv")))
	assert.Equal(t, [][]string{runHeader}, readCSV(t, filepath.Join(dir, "runs.csv")))
}

func TestCSVRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	require.NoError(t, j.RecordDeal(sampleDeal("R1", 2, t0, -12.5)))
	require.NoError(t, j.RecordEquity(EquitySnapshot{RunID: "R1", Time: t0, Balance: 1000.1, Equity: 999.9}))
	require.NoError(t, j.RecordRun(BacktestRun{RunID: "R1", Strategy: "noop", Trades: 3}))

	// rows are flushed as they are written
	deals := readCSV(t, filepath.Join(dir, "deals.csv"))
	require.Len(t, deals, 2)
	assert.Equal(t, []string{
		"R1", "2", "1", "1", "EURUSD", "2024-01-02T03:04:05Z", "SELL", "OUT",
		"1.234500", "0.500000", "0.000000", "0.000000", "-12.500000",
	}, deals[1])

	require.NoError(t, j.Close())

	equity := readCSV(t, filepath.Join(dir, "equity.csv"))
	require.Len(t, equity, 2)
	assert.Equal(t, "1000.100000", equity[1][2])
	assert.Equal(t, "999.900000", equity[1][3])

	runs := readCSV(t, filepath.Join(dir, "runs.csv"))
	require.Len(t, runs, 2)
	assert.Equal(t, "noop", runs[1][2])
	assert.Equal(t, "3", runs[1][8])
}
