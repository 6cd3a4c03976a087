package backtest

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/journal"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/sim"
	"github.com/rustyeddy/tradehost/trade"
)

// recorder counts callbacks and, when tp > 0, buys once on the first tick
// with a take profit tp above the ask.
type recorder struct {
	tp float64

	mu      sync.Mutex
	trader  broker.Trader
	initBid float64
	ticks   []market.Tick
	rates   []market.Rate
	orders  []*trade.Order
	errs    []error
	release int
}

func (r *recorder) Initialize(t broker.Trader, _ market.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trader = t
	r.initBid, _ = t.Bid("EURUSD")
	return nil
}

func (r *recorder) OnTick(t market.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, t)
	if r.tp > 0 && len(r.orders) == 0 && len(r.errs) == 0 {
		o, err := r.trader.Buy(context.Background(), t.Symbol, t.Ask, 0.1, 10, 0, t.Ask+r.tp)
		if err != nil {
			r.errs = append(r.errs, err)
			return
		}
		r.orders = append(r.orders, o)
	}
}

func (r *recorder) OnRate(rt market.Rate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates = append(r.rates, rt)
}

func (r *recorder) OnRelease() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release++
}

func testConfig() Config {
	return Config{
		Start:   t0,
		End:     t0.Add(10 * time.Minute),
		Account: market.Account{Currency: "USD", Leverage: 100, Balance: 10_000},
		Venue:   sim.DefaultConfig(),
	}
}

func newBacktester(t *testing.T, l Loader, cfg Config, opts ...Option) *Backtester {
	t.Helper()
	bt, err := New(l, cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, bt.AddInstrument(market.Instruments["EURUSD"]))
	require.NoError(t, bt.AddInstrument(market.Instruments["GBPUSD"]))
	return bt
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader()
	_, err := New(nil, testConfig())
	assert.Error(t, err)

	cfg := testConfig()
	cfg.End = cfg.Start
	_, err = New(l, cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Account.Currency = ""
	_, err = New(l, cfg)
	assert.Error(t, err)
}

func TestRegisterBackfillsWarmup(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader(bars("EURUSD", market.M1, t0.Add(-40*time.Minute), 50, 1.1)...)
	bt := newBacktester(t, l, testConfig())

	s := &recorder{}
	_, err := bt.Register(s, "EURUSD", market.M1)
	require.NoError(t, err)

	in, ok := bt.Broker().Instrument("EURUSD")
	require.True(t, ok)
	hist := in.Rates(market.M1)
	assert.Equal(t, DefaultWarmup, hist.Size())
	first, ok := hist.First()
	require.True(t, ok)
	assert.Equal(t, t0.Add(-30*time.Minute), first.Time)
	last, ok := hist.Last()
	require.True(t, ok)
	assert.Equal(t, t0.Add(-time.Minute), last.Time, "newest warmup bar closes at start")

	assert.Empty(t, s.rates, "warmup bars are not dispatched")
	assert.InDelta(t, last.Close, s.initBid, 1e-12, "venue quotes the last warmup bar")
}

func TestHistoryOlderThanWarmup(t *testing.T) {
	t.Parallel()

	mem := NewMemoryLoader(bars("EURUSD", market.M1, t0.Add(-40*time.Minute), 50, 1.1)...)
	var calls atomic.Int64
	l := LoaderFunc(func(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error) {
		calls.Add(1)
		return mem.FetchBars(ctx, symbol, tf, start, end)
	})
	bt := newBacktester(t, l, testConfig())
	_, err := bt.Register(&recorder{}, "EURUSD", market.M1)
	require.NoError(t, err)
	warmCalls := calls.Load()

	in, _ := bt.Broker().Instrument("EURUSD")
	hist := in.Rates(market.M1)

	got := hist.ListRange(t0.Add(-time.Minute), t0.Add(-38*time.Minute))
	require.Len(t, got, 38)
	assert.Equal(t, t0.Add(-38*time.Minute), got[37].Time)
	assert.NotNil(t, got[37].Meta)
	assert.Equal(t, warmCalls+1, calls.Load())

	// two bars remain before the loaded window
	assert.Len(t, hist.List(45), 40)
	assert.Equal(t, warmCalls+2, calls.Load())

	// the loader is exhausted after one more search
	assert.Len(t, hist.List(45), 40)
	searched := calls.Load()
	assert.Len(t, hist.List(45), 40)
	assert.Equal(t, searched, calls.Load())

	last, _ := hist.Last()
	assert.Equal(t, t0.Add(-time.Minute), last.Time, "no bar past the start")
}

func TestRunDeliversBarsInOrder(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader(bars("EURUSD", market.M1, t0.Add(-40*time.Minute), 60, 1.1)...)
	cfg := testConfig()
	cfg.ChunkBars = 3

	var points atomic.Int64
	bt := newBacktester(t, l, cfg, WithEquityListener(func(market.Account) { points.Add(1) }))
	s := &recorder{}
	_, err := bt.Register(s, "EURUSD", market.M1)
	require.NoError(t, err)

	res, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, res.Bars)
	assert.Equal(t, 10, res.Steps)
	assert.Equal(t, t0, res.Start)
	assert.Equal(t, t0.Add(10*time.Minute), res.End)
	require.Len(t, s.rates, 10)
	for i, r := range s.rates {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Minute), r.Time)
	}
	require.Len(t, s.ticks, 10, "each step waits for the tick handler")
	assert.Equal(t, t0.Add(time.Minute), s.ticks[0].Time)
	assert.Equal(t, s.rates[0].Close, s.ticks[0].Bid)
	assert.Zero(t, res.Dropped["EURUSD"])

	assert.Len(t, res.Equity, 11)
	assert.Equal(t, int64(11), points.Load())
	assert.Equal(t, 1, s.release)
	assert.Empty(t, bt.Broker().Registrations())
}

func TestRunTakeProfit(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader(bars("EURUSD", market.M1, t0, 10, 1.1)...)
	bt := newBacktester(t, l, testConfig())
	s := &recorder{tp: 0.003}
	_, err := bt.Register(s, "EURUSD", market.M1)
	require.NoError(t, err)

	res, err := bt.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, s.errs)
	require.Len(t, s.orders, 1)
	assert.InDelta(t, 1.1011, s.orders[0].Price(), 1e-12)

	require.Len(t, res.Deals, 2)
	out := res.Deals[1]
	assert.Equal(t, trade.EntryOut, out.Entry)
	assert.InDelta(t, 1.1041, out.Price, 1e-9)
	assert.InDelta(t, 30, out.Profit, 1e-9)

	assert.InDelta(t, 10_030, res.Account.Balance, 1e-9)
	assert.Equal(t, 1, res.Stats.Trades)
	assert.Equal(t, 1, res.Stats.ProfitTrades)
	assert.InDelta(t, 30, res.Stats.NetProfit, 1e-9)
	_, open := bt.Broker().Position("EURUSD")
	assert.False(t, open)
}

func TestRunCloseAtEnd(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader(bars("EURUSD", market.M1, t0, 10, 1.1)...)
	cfg := testConfig()
	cfg.CloseAtEnd = true
	bt := newBacktester(t, l, cfg)
	s := &recorder{tp: 1}
	_, err := bt.Register(s, "EURUSD", market.M1)
	require.NoError(t, err)

	res, err := bt.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Deals, 2)
	assert.Empty(t, bt.Broker().Positions())
	// bought at 1.1011, last close 1.110
	assert.InDelta(t, 89, res.Deals[1].Profit, 1e-9)
	assert.Len(t, res.Equity, 12)
	last := res.Equity[len(res.Equity)-1]
	assert.InDelta(t, last.Balance, last.Equity, 1e-9)
}

func TestRunInterleavesSymbols(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader(bars("EURUSD", market.M1, t0, 10, 1.1)...)
	// GBPUSD trades every other minute
	for i, r := range bars("GBPUSD", market.M1, t0, 10, 1.25) {
		if i%2 == 0 {
			l.Add(r)
		}
	}
	cfg := testConfig()
	cfg.Warmup = -1
	bt := newBacktester(t, l, cfg)

	eur, gbp := &recorder{}, &recorder{}
	_, err := bt.Register(eur, "EURUSD", market.M1)
	require.NoError(t, err)
	_, err = bt.Register(gbp, "GBPUSD", market.M1)
	require.NoError(t, err)

	res, err := bt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Steps)
	assert.Equal(t, 15, res.Bars)
	assert.Len(t, eur.rates, 10)
	assert.Len(t, gbp.rates, 5)
}

func TestRunNeedsRegistration(t *testing.T) {
	t.Parallel()

	bt := newBacktester(t, NewMemoryLoader(), testConfig())
	_, err := bt.Run(context.Background())
	assert.Error(t, err)
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	l := NewMemoryLoader(bars("EURUSD", market.M1, t0, 10, 1.1)...)
	bt := newBacktester(t, l, testConfig())
	_, err := bt.Register(&recorder{}, "EURUSD", market.M1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunnerJournals(t *testing.T) {
	t.Parallel()

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	r := &Runner{
		Loader:   NewMemoryLoader(bars("EURUSD", market.M1, t0, 10, 1.1)...),
		Config:   testConfig(),
		Strategy: "recorder",
		NewStrategy: func(string) (broker.Strategy, error) {
			return &recorder{tp: 0.003}, nil
		},
		Symbols:   []string{"EURUSD"},
		TimeFrame: market.M1,
		Journal:   j,
	}
	run, res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, run.RunID, 26)
	assert.Equal(t, "EURUSD", run.Symbols)
	assert.Equal(t, "M1", run.TimeFrame)
	assert.Equal(t, 1, run.Trades)
	assert.InDelta(t, 100, run.WinRate, 1e-9)
	assert.InDelta(t, 0.3, run.ReturnPct, 1e-9)

	ctx := context.Background()
	deals, err := j.ListDeals(ctx, run.RunID)
	require.NoError(t, err)
	assert.Len(t, deals, len(res.Deals))

	eq, err := j.ListEquity(ctx, run.RunID)
	require.NoError(t, err)
	assert.Len(t, eq, len(res.Equity))

	got, err := j.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "recorder", got.Strategy)
}

func TestRunnerUnknownSymbol(t *testing.T) {
	t.Parallel()

	r := &Runner{
		Loader:      NewMemoryLoader(),
		Config:      testConfig(),
		NewStrategy: func(string) (broker.Strategy, error) { return &recorder{}, nil },
		Symbols:     []string{"XAUUSD"},
	}
	_, _, err := r.Run(context.Background())
	assert.ErrorIs(t, err, broker.ErrUnknownSymbol)
}
