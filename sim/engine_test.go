package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64, spread int) market.Rate {
	return market.Rate{
		Symbol:    "EURUSD",
		Time:      t0.Add(time.Duration(i) * time.Minute),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Spread:    spread,
		TimeFrame: market.M1,
	}
}

// newSim wires a venue and a broker for EURUSD on a USD account.
func newSim(t *testing.T, balance float64, cfg Config) (*Venue, *broker.Broker) {
	t.Helper()
	v := NewVenue(cfg, market.Account{Currency: "USD", Leverage: 100, Balance: balance})
	b := broker.New(v)
	meta := market.Instruments["EURUSD"]
	_, err := b.AddInstrument(meta)
	require.NoError(t, err)
	v.AddInstrument(meta)
	v.Attach(b)
	return v, b
}

func TestVenueQuoteFromBar(t *testing.T) {
	t.Parallel()
	v, _ := newSim(t, 10_000, DefaultConfig())

	_, err := v.Bid("EURUSD")
	require.ErrorIs(t, err, ErrNoBar)

	r := bar(0, 1.1000, 1.1015, 1.0995, 1.1010, 0)
	v.Advance(r)

	bid, err := v.Bid("EURUSD")
	require.NoError(t, err)
	ask, err := v.Ask("EURUSD")
	require.NoError(t, err)

	assert.Equal(t, r.Close, bid)
	assert.GreaterOrEqual(t, ask, bid)
	assert.LessOrEqual(t, ask-bid, 0.1*r.Body()+1e-12)

	again, err := v.Ask("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, ask, again, "quote is stable within a bar")
}

func TestVenueSpreadBound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		open, close float64
	}{
		{"doji", 1.2000, 1.2000},
		{"body under a point", 1.20000, 1.20003},
		{"body of one point", 1.20000, 1.20001},
		{"wide body", 1.2000, 1.2150},
		{"bearish", 1.2150, 1.2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for seed := uint64(1); seed <= 20; seed++ {
				cfg := DefaultConfig()
				cfg.Seed = seed
				v, _ := newSim(t, 10_000, cfg)
				r := bar(0, tt.open, math.Max(tt.open, tt.close)+0.001, math.Min(tt.open, tt.close)-0.001, tt.close, 0)
				v.Advance(r)

				bid, err := v.Bid("EURUSD")
				require.NoError(t, err)
				ask, err := v.Ask("EURUSD")
				require.NoError(t, err)
				assert.GreaterOrEqual(t, ask, bid)
				assert.LessOrEqual(t, ask-bid, 0.1*r.Body()+1e-12, "seed %d", seed)
			}
		})
	}
}

func TestVenueRecordedSpread(t *testing.T) {
	t.Parallel()
	v, _ := newSim(t, 10_000, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	tk, err := v.Tick("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.2, tk.Bid)
	assert.Equal(t, 1.2002, tk.Ask)
	assert.Equal(t, t0.Add(time.Minute), tk.Time, "tick stamped at bar close")
}

func TestVenueAdvanceInvalidatesCache(t *testing.T) {
	t.Parallel()
	v, _ := newSim(t, 10_000, DefaultConfig())

	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))
	_, err := v.Ask("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 2, v.Cache().Len())

	v.Advance(bar(1, 1.2, 1.2105, 1.1995, 1.21, 10))
	assert.Equal(t, 0, v.Cache().Len())

	ask, err := v.Ask("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1.2101, ask)
}

func TestVenueLevels(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StopLevel = 15
	cfg.FreezeLevel = 5
	v, _ := newSim(t, 10_000, cfg)
	assert.Equal(t, 15, v.StopLevel("EURUSD"))
	assert.Equal(t, 5, v.FreezeLevel("EURUSD"))

	cfg.StopLevel = -1
	cfg.FreezeLevel = -1
	cfg.MaxRandomLevel = 30
	rv, _ := newSim(t, 10_000, cfg)
	rv.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))
	stop := rv.StopLevel("EURUSD")
	assert.GreaterOrEqual(t, stop, 0)
	assert.LessOrEqual(t, stop, 30)
	assert.Equal(t, stop, rv.StopLevel("EURUSD"), "random level is drawn once per bar")
	freeze := rv.FreezeLevel("EURUSD")
	assert.GreaterOrEqual(t, freeze, 0)
	assert.LessOrEqual(t, freeze, 30)
}

func TestVenueRevalue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, b := newSim(t, 10_000, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	assert.Equal(t, 10_000.0, b.Account().MarginFree)

	ask, err := b.Ask("EURUSD")
	require.NoError(t, err)
	_, err = b.Buy(ctx, "EURUSD", ask, 1, 0, 0, 0)
	require.NoError(t, err)

	acct := b.Account()
	assert.Equal(t, 10_000.0, acct.Balance)
	assert.InDelta(t, -20, acct.Profit, 1e-6)
	assert.InDelta(t, 9_980, acct.Equity, 1e-6)
	assert.InDelta(t, 1_200.1, acct.MarginUsed, 1e-6)
	assert.InDelta(t, 8_779.9, acct.MarginFree, 1e-6)
	assert.Equal(t, acct.MarginFree, acct.Margin)

	v.Advance(bar(1, 1.2, 1.2105, 1.1995, 1.21, 20))
	acct, err = v.Revalue()
	require.NoError(t, err)
	assert.InDelta(t, 980, acct.Profit, 1e-6)
	assert.InDelta(t, 10_980, acct.Equity, 1e-6)
	assert.Equal(t, acct, b.Account())
}

func TestVenueBooksRealizedProfit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, b := newSim(t, 10_000, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	ask, err := b.Ask("EURUSD")
	require.NoError(t, err)
	_, err = b.Buy(ctx, "EURUSD", ask, 0.5, 0, 0, 0)
	require.NoError(t, err)

	v.Advance(bar(1, 1.2, 1.2105, 1.1995, 1.21, 20))
	p, ok := b.Position("EURUSD")
	require.True(t, ok)
	bid, err := b.Bid("EURUSD")
	require.NoError(t, err)
	_, err = b.Close(ctx, p, bid, 0)
	require.NoError(t, err)

	acct := v.Account()
	assert.InDelta(t, 10_490, acct.Balance, 1e-6)
	assert.InDelta(t, acct.Balance, acct.Equity, 1e-6)
	assert.Zero(t, acct.MarginUsed)
}

func TestProcessFillsLimitOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, b := newSim(t, 10_000, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	o, err := b.BuyLimit(ctx, "EURUSD", 1.195, 1, 1.19, 1.21)
	require.NoError(t, err)

	// not reached
	next := bar(1, 1.2, 1.201, 1.196, 1.198, 20)
	v.Advance(next)
	require.NoError(t, v.Process(ctx, next))
	assert.Equal(t, trade.StatePlaced, o.State())

	next = bar(2, 1.198, 1.201, 1.194, 1.197, 20)
	v.Advance(next)
	require.NoError(t, v.Process(ctx, next))
	assert.Equal(t, trade.StateFilled, o.State())

	p, ok := b.Position("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.195, p.OpenPrice())
	assert.Equal(t, 1.19, p.StopLoss())
	assert.Equal(t, 1.21, p.TakeProfit())

	// stop loss trades; the exit is at the level
	next = bar(3, 1.196, 1.197, 1.185, 1.188, 20)
	v.Advance(next)
	require.NoError(t, v.Process(ctx, next))
	_, ok = b.Position("EURUSD")
	assert.False(t, ok)
	require.Len(t, b.ClosedPositions(), 1)
	assert.InDelta(t, -500, b.ClosedPositions()[0].Profit(), 1e-6)
	assert.InDelta(t, 9_500, v.Account().Balance, 1e-6)
}

func TestProcessGapFillsAtOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, b := newSim(t, 10_000, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	o, err := b.BuyLimit(ctx, "EURUSD", 1.195, 1, 0, 0)
	require.NoError(t, err)

	next := bar(1, 1.19, 1.193, 1.189, 1.192, 20)
	v.Advance(next)
	require.NoError(t, v.Process(ctx, next))
	assert.Equal(t, trade.StateFilled, o.State())
	p, ok := b.Position("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.19, p.OpenPrice())
}

func TestProcessStopLimitActivatesThenFills(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, b := newSim(t, 10_000, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	o, err := b.BuyStopLimit(ctx, "EURUSD", 1.205, 1.203, 1, 0, 0)
	require.NoError(t, err)

	next := bar(1, 1.2, 1.206, 1.1995, 1.2055, 20)
	v.Advance(next)
	require.NoError(t, v.Process(ctx, next))
	assert.Equal(t, trade.OrderBuyLimit, o.Type())
	assert.Equal(t, trade.StatePlaced, o.State())
	_, ok := b.Position("EURUSD")
	assert.False(t, ok, "activated limit waits for the next bar")

	next = bar(2, 1.2055, 1.206, 1.2025, 1.204, 20)
	v.Advance(next)
	require.NoError(t, v.Process(ctx, next))
	assert.Equal(t, trade.StateFilled, o.State())
	p, ok := b.Position("EURUSD")
	require.True(t, ok)
	assert.Equal(t, 1.203, p.OpenPrice())
}

func TestEnforceMarginStopsOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v, b := newSim(t, 1_300, DefaultConfig())
	v.Advance(bar(0, 1.2, 1.2005, 1.1995, 1.2, 20))

	ask, err := b.Ask("EURUSD")
	require.NoError(t, err)
	_, err = b.Buy(ctx, "EURUSD", ask, 1, 0, 0, 0)
	require.NoError(t, err)

	out, err := v.EnforceMargin(ctx)
	require.NoError(t, err)
	assert.Empty(t, out, "level above stop out")

	v.Advance(bar(1, 1.2, 1.2, 1.19, 1.1905, 20))
	_, err = v.Revalue()
	require.NoError(t, err)
	assert.Less(t, v.Account().MarginLevel()*100, 50.0)

	out, err = v.EnforceMargin(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, trade.OrderSell, out[0].Type())
	assert.Equal(t, 1.1905, out[0].Price())

	_, ok := b.Position("EURUSD")
	assert.False(t, ok)
	assert.InDelta(t, 330, v.Account().Balance, 1e-6)
}

func TestTriggerPrice(t *testing.T) {
	t.Parallel()

	r := bar(0, 1.2, 1.21, 1.19, 1.205, 0)
	tests := []struct {
		name  string
		typ   trade.OrderType
		price float64
		rate  market.Rate
		want  float64
		hit   bool
	}{
		{"buy limit inside", trade.OrderBuyLimit, 1.195, r, 1.195, true},
		{"buy limit missed", trade.OrderBuyLimit, 1.185, r, 0, false},
		{"buy limit gap", trade.OrderBuyLimit, 1.205, r, 1.2, true},
		{"buy stop inside", trade.OrderBuyStop, 1.208, r, 1.208, true},
		{"buy stop missed", trade.OrderBuyStop, 1.215, r, 0, false},
		{"buy stop gap", trade.OrderBuyStop, 1.198, r, 1.2, true},
		{"sell limit inside", trade.OrderSellLimit, 1.208, r, 1.208, true},
		{"sell stop gap", trade.OrderSellStop, 1.202, r, 1.2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := trade.NewOrder(1, "EURUSD", tt.typ, trade.Levels{Price: tt.price, Volume: 1}, t0)
			got, hit := triggerPrice(o, tt.rate)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		dir    trade.Direction
		sl, tp float64
		rate   market.Rate
		want   float64
		reason string
	}{
		{"long untouched", trade.Buy, 1.19, 1.21, bar(0, 1.2, 1.205, 1.195, 1.2, 0), 0, ""},
		{"long stop loss", trade.Buy, 1.19, 1.21, bar(0, 1.2, 1.205, 1.185, 1.19, 0), 1.19, "StopLoss"},
		{"long take profit", trade.Buy, 1.19, 1.21, bar(0, 1.2, 1.215, 1.195, 1.21, 0), 1.21, "TakeProfit"},
		{"long both, stop wins", trade.Buy, 1.19, 1.21, bar(0, 1.2, 1.215, 1.185, 1.2, 0), 1.19, "StopLoss"},
		{"long stop gap", trade.Buy, 1.19, 1.21, bar(0, 1.185, 1.188, 1.18, 1.186, 0), 1.185, "StopLoss"},
		{"short stop loss", trade.Sell, 1.21, 1.19, bar(0, 1.2, 1.212, 1.195, 1.21, 0), 1.21, "StopLoss"},
		{"short take profit gap", trade.Sell, 1.21, 1.19, bar(0, 1.185, 1.188, 1.18, 1.186, 0), 1.185, "TakeProfit"},
		{"unset levels", trade.Buy, 0, 0, bar(0, 1.2, 1.5, 1.0, 1.2, 0), 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := trade.NewPosition(1, "EURUSD", tt.dir, 1.2, tt.sl, tt.tp, t0)
			got, reason := exitPrice(p, tt.rate)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.want, got)
		})
	}
}
