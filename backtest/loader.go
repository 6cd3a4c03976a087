package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/tradehost/market"
)

var ErrNoData = errors.New("no data")

// Loader fetches closed bars of symbol and tf with open times in
// [start, end), oldest first.
type Loader interface {
	FetchBars(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error)
}

type LoaderFunc func(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error)

func (f LoaderFunc) FetchBars(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error) {
	return f(ctx, symbol, tf, start, end)
}

type seriesKey struct {
	symbol string
	tf     market.TimeFrame
}

func (k seriesKey) String() string { return k.symbol + "/" + k.tf.String() }

// MemoryLoader serves bars held in memory.
type MemoryLoader struct {
	mu   sync.RWMutex
	bars map[seriesKey][]market.Rate
}

func NewMemoryLoader(rates ...market.Rate) *MemoryLoader {
	m := &MemoryLoader{bars: make(map[seriesKey][]market.Rate)}
	m.Add(rates...)
	return m
}

// Add stores rates under their own symbol and timeframe.
func (m *MemoryLoader) Add(rates ...market.Rate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := map[seriesKey]bool{}
	for _, r := range rates {
		k := seriesKey{r.Symbol, r.TimeFrame}
		m.bars[k] = append(m.bars[k], r)
		touched[k] = true
	}
	for k := range touched {
		s := m.bars[k]
		sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	}
}

func (m *MemoryLoader) FetchBars(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bars[seriesKey{symbol, tf}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", symbol, tf, ErrNoData)
	}
	return window(s, start, end), nil
}

// window returns a copy of the bars of sorted s with open times in
// [start, end).
func window(s []market.Rate, start, end time.Time) []market.Rate {
	lo := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(start) })
	hi := sort.Search(len(s), func(i int) bool { return !s[i].Time.Before(end) })
	if lo >= hi {
		return nil
	}
	out := make([]market.Rate, hi-lo)
	copy(out, s[lo:hi])
	return out
}
