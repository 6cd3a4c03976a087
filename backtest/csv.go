package backtest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/tradehost/market"
)

// CSVLoader reads bars from one file per symbol and timeframe in Dir,
// named by Pattern ("{symbol}_{tf}.csv" by default, e.g. EURUSD_H1.csv).
// Rows are:
//
//	time,open,high,low,close[,tick_volume[,spread]]
//
// where time is RFC3339 or unix seconds. A header row is allowed. Files are
// read once and kept.
type CSVLoader struct {
	Dir     string
	Pattern string

	mu    sync.Mutex
	files map[string][]market.Rate
}

func NewCSVLoader(dir string) *CSVLoader {
	return &CSVLoader{Dir: dir, Pattern: "{symbol}_{tf}.csv"}
}

// Path is the file holding symbol and tf.
func (l *CSVLoader) Path(symbol string, tf market.TimeFrame) string {
	name := strings.NewReplacer("{symbol}", symbol, "{tf}", tf.String()).Replace(l.Pattern)
	return filepath.Join(l.Dir, name)
}

func (l *CSVLoader) FetchBars(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.Path(symbol, tf)

	l.mu.Lock()
	defer l.mu.Unlock()
	bars, ok := l.files[path]
	if !ok {
		var err error
		bars, err = readBars(path, symbol, tf)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s %s: %w", symbol, tf, ErrNoData)
		}
		if err != nil {
			return nil, err
		}
		if l.files == nil {
			l.files = make(map[string][]market.Rate)
		}
		l.files[path] = bars
	}
	return window(bars, start, end), nil
}

func readBars(path, symbol string, tf market.TimeFrame) ([]market.Rate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var out []market.Rate
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		// allow a single header row
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) < 5 {
			continue
		}
		bar, err := parseBarRow(row, symbol, tf)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, bar)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseBarRow(row []string, symbol string, tf market.TimeFrame) (market.Rate, error) {
	ts, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return market.Rate{}, err
	}
	var px [4]float64
	for i := range px {
		px[i], err = strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return market.Rate{}, fmt.Errorf("bad price %q: %w", row[i+1], err)
		}
	}
	bar := market.Rate{
		Symbol:    symbol,
		TimeFrame: tf,
		Time:      ts,
		Open:      px[0],
		High:      px[1],
		Low:       px[2],
		Close:     px[3],
	}
	if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
		if bar.TickVolume, err = strconv.ParseInt(strings.TrimSpace(row[5]), 10, 64); err != nil {
			return market.Rate{}, fmt.Errorf("bad volume %q: %w", row[5], err)
		}
	}
	if len(row) > 6 && strings.TrimSpace(row[6]) != "" {
		if bar.Spread, err = strconv.Atoi(strings.TrimSpace(row[6])); err != nil {
			return market.Rate{}, fmt.Errorf("bad spread %q: %w", row[6], err)
		}
	}
	return bar, nil
}

// parseTime accepts RFC3339, RFC3339Nano or unix seconds.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// WriteCSV writes bars in the format CSVLoader reads.
func WriteCSV(w io.Writer, bars []market.Rate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "tick_volume", "spread"}); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.TickVolume, 10),
			strconv.Itoa(b.Spread),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
