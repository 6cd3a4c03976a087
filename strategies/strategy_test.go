package strategies

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

type call struct {
	op     string
	price  float64
	volume float64
	sl, tp float64
}

// fakeTrader implements the parts of broker.Trader the strategies use.
type fakeTrader struct {
	broker.Trader

	mu       sync.Mutex
	in       *market.Instrument
	acct     market.Account
	bid, ask float64
	pos      *trade.Position
	calls    []call
	failNext error
	seq      int64
}

func newFake(symbol string) *fakeTrader {
	return &fakeTrader{
		in:   market.NewInstrument(market.Instruments[symbol]),
		acct: market.Account{Currency: "USD", Leverage: 100, Balance: 10_000, Equity: 10_000},
	}
}

func (f *fakeTrader) record(op string, dir trade.Direction, price, volume, sl, tp float64) (*trade.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	f.seq++
	f.calls = append(f.calls, call{op: op, price: price, volume: volume, sl: sl, tp: tp})
	typ := trade.OrderBuy
	if dir == trade.Sell {
		typ = trade.OrderSell
	}
	if op != "CLOSE" {
		f.pos = trade.NewPosition(f.seq, f.in.Symbol, dir, price, sl, tp, time.Time{})
	}
	return trade.NewOrder(f.seq, f.in.Symbol, typ, trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp}, time.Time{}), nil
}

func (f *fakeTrader) Buy(_ context.Context, _ string, price, volume float64, _ int, sl, tp float64) (*trade.Order, error) {
	return f.record("BUY", trade.Buy, price, volume, sl, tp)
}

func (f *fakeTrader) Sell(_ context.Context, _ string, price, volume float64, _ int, sl, tp float64) (*trade.Order, error) {
	return f.record("SELL", trade.Sell, price, volume, sl, tp)
}

func (f *fakeTrader) Close(_ context.Context, p *trade.Position, price float64, _ int) (*trade.Order, error) {
	o, err := f.record("CLOSE", p.Direction().Opposite(), price, 0, 0, 0)
	if err == nil {
		f.mu.Lock()
		f.pos = nil
		f.mu.Unlock()
	}
	return o, err
}

func (f *fakeTrader) Position(string) (*trade.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, f.pos != nil
}

func (f *fakeTrader) Account() market.Account { return f.acct }

func (f *fakeTrader) Instrument(symbol string) (*market.Instrument, bool) {
	if symbol != f.in.Symbol {
		return nil, false
	}
	return f.in, true
}

func (f *fakeTrader) Bid(string) (float64, error) { return f.bid, nil }
func (f *fakeTrader) Ask(string) (float64, error) { return f.ask, nil }

func (f *fakeTrader) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	assert.Subset(t, Names(), []string{"ema-cross", "noop", "open-once"})

	tests := []struct {
		name string
		want any
	}{
		{"noop", Noop{}},
		{" NONE ", Noop{}},
		{"open-once", &OpenOnce{}},
		{"EmaCross", &EMACross{}},
		{"ema-cross-adx", &EMACross{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(tt.name, "EURUSD", DefaultParams(), zerolog.Nop())
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}

	_, err := New("martingale", "EURUSD", DefaultParams(), zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	bad := DefaultParams()
	bad.Slow = bad.Fast
	_, err = New("ema-cross", "EURUSD", bad, zerolog.Nop())
	assert.Error(t, err)
}

func TestDecodeParams(t *testing.T) {
	t.Parallel()

	p, err := DecodeParams(map[string]any{
		"fast":     "5",
		"risk_pct": 0.02,
		"policy":   map[string]any{"min_rr": 1.5, "max_open_positions": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, p.Fast)
	assert.Equal(t, 30, p.Slow, "defaults kept")
	assert.Equal(t, 0.02, p.RiskPct)
	assert.Equal(t, 1.5, p.Policy.MinRR)
	assert.Equal(t, 1, p.Policy.MaxOpenPositions)

	_, err = DecodeParams(map[string]any{"fastest": 1})
	assert.Error(t, err)
}

func TestOpenOnce(t *testing.T) {
	t.Parallel()

	f := newFake("EURUSD")
	s, err := NewOpenOnce("EURUSD", Params{Volume: 0.2}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(f, f.acct))
	oo := s.(*OpenOnce)

	tick := market.Tick{Symbol: "EURUSD", Bid: 1.085, Ask: 1.0852}
	f.failNext = errors.New("market closed")
	s.OnTick(tick)
	assert.False(t, oo.Opened())

	s.OnTick(market.Tick{Symbol: "GBPUSD", Bid: 1.25, Ask: 1.2502})
	s.OnTick(tick)
	s.OnTick(tick)
	assert.True(t, oo.Opened())
	require.Len(t, f.calls, 1)
	assert.Equal(t, call{op: "BUY", price: 1.0852, volume: 0.2}, f.calls[0])

	_, err = NewOpenOnce("EURUSD", Params{}, zerolog.Nop())
	assert.Error(t, err)
}

// feed pushes closes as H1 bars and prices the fake at each close.
func feed(f *fakeTrader, s broker.Strategy, start time.Time, closes []float64) {
	prev := closes[0]
	for i, c := range closes {
		r := market.Rate{
			Symbol:    f.in.Symbol,
			Time:      start.Add(time.Duration(i) * time.Hour),
			Open:      prev,
			High:      max(prev, c) + 0.0005,
			Low:       min(prev, c) - 0.0005,
			Close:     c,
			TimeFrame: market.H1,
		}
		prev = c
		if _, err := f.in.OnRate(r); err != nil {
			panic(err)
		}
		f.bid = c
		f.ask = round(c+0.0002, 5)
		s.OnRate(r)
	}
}

func ramp(from float64, n int, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = round(from+float64(i)*step, 5)
	}
	return out
}

func emaParams() Params {
	p := DefaultParams()
	p.Fast, p.Slow = 3, 6
	p.RiskPct = 0.01
	p.StopPips = 20
	p.RR = 2
	return p
}

func TestEMACrossReverses(t *testing.T) {
	t.Parallel()

	f := newFake("EURUSD")
	s, err := NewEMACross("EURUSD", emaParams(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(f, f.acct))

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	down := ramp(1.2, 20, -0.001)
	up := ramp(1.181, 20, 0.001)
	again := ramp(1.2, 20, -0.001)

	feed(f, s, start, down)
	assert.Empty(t, f.ops(), "no cross while trending down")

	feed(f, s, start.Add(20*time.Hour), up)
	require.Equal(t, []string{"BUY"}, f.ops())
	buy := f.calls[0]
	assert.InDelta(t, 0.5, buy.volume, 1e-9, "one percent of 10000 over a 20 pip stop")
	assert.InDelta(t, buy.price-0.002, buy.sl, 1e-9)
	assert.InDelta(t, buy.price+0.004, buy.tp, 1e-9)

	feed(f, s, start.Add(40*time.Hour), again)
	assert.Equal(t, []string{"BUY", "CLOSE", "SELL"}, f.ops())
	sell := f.calls[2]
	assert.InDelta(t, sell.price+0.002, sell.sl, 1e-9)
	assert.InDelta(t, sell.price-0.004, sell.tp, 1e-9)
}

func TestEMACrossFixedVolume(t *testing.T) {
	t.Parallel()

	f := newFake("EURUSD")
	p := emaParams()
	p.RiskPct = 0
	p.Volume = 0.3
	s, err := NewEMACross("EURUSD", p, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(f, f.acct))

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	feed(f, s, start, ramp(1.2, 20, -0.001))
	feed(f, s, start.Add(20*time.Hour), ramp(1.181, 20, 0.001))
	require.Len(t, f.calls, 1)
	assert.Equal(t, 0.3, f.calls[0].volume)
}

func TestEMACrossPolicyBlocks(t *testing.T) {
	t.Parallel()

	f := newFake("EURUSD")
	p := emaParams()
	p.Policy.MinRR = 3
	s, err := NewEMACross("EURUSD", p, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(f, f.acct))

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	feed(f, s, start, ramp(1.2, 20, -0.001))
	feed(f, s, start.Add(20*time.Hour), ramp(1.181, 20, 0.001))
	assert.Empty(t, f.calls)
}

func TestEMACrossUnknownSymbol(t *testing.T) {
	t.Parallel()

	f := newFake("EURUSD")
	s, err := NewEMACross("GBPUSD", emaParams(), zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Initialize(f, f.acct), broker.ErrUnknownSymbol)
}

func TestEMACrossADXGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		threshold float64
		want      []string
	}{
		{"trend strong enough", 1, []string{"BUY"}},
		{"unreachable threshold", 101, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFake("EURUSD")
			p := emaParams()
			p.ADXPeriod = 5
			p.ADXThreshold = tt.threshold
			s, err := NewEMACrossADX("EURUSD", p, zerolog.Nop())
			require.NoError(t, err)
			require.NoError(t, s.Initialize(f, f.acct))

			start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
			feed(f, s, start, ramp(1.2, 20, -0.001))
			feed(f, s, start.Add(20*time.Hour), ramp(1.181, 20, 0.001))
			if tt.want == nil {
				assert.Empty(t, f.ops())
				return
			}
			assert.Equal(t, tt.want, f.ops())
		})
	}
}
