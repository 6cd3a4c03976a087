package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/risk"
	"github.com/rustyeddy/tradehost/trade"
)

// EMACross trades a fast/slow EMA crossover on closed bars.
//   - enters only on a cross
//   - reverses on the opposite cross (close then open)
//   - stop StopPips away, take profit RR times the stop distance
//   - sized with risk.Size when RiskPct is set, else a fixed Volume
type EMACross struct {
	symbol string
	p      Params
	log    zerolog.Logger

	t        broker.Trader
	day      time.Time
	dayStart float64
}

func NewEMACross(symbol string, p Params, log zerolog.Logger) (broker.Strategy, error) {
	if p.Fast <= 1 || p.Slow <= p.Fast {
		return nil, fmt.Errorf("ema-cross: need 1 < fast < slow, got %d/%d", p.Fast, p.Slow)
	}
	if p.StopPips <= 0 {
		return nil, fmt.Errorf("ema-cross: stop pips must be positive")
	}
	if p.RR <= 0 {
		p.RR = 2
	}
	if p.RiskPct <= 0 && p.Volume <= 0 {
		return nil, fmt.Errorf("ema-cross: set risk_pct or volume")
	}
	if p.ADXPeriod < 0 {
		return nil, fmt.Errorf("ema-cross: adx period must not be negative")
	}
	return &EMACross{symbol: symbol, p: p, log: log}, nil
}

// NewEMACrossADX is EMACross that only trades crosses while ADX is at or
// above the threshold, by default over 14 bars at 20.
func NewEMACrossADX(symbol string, p Params, log zerolog.Logger) (broker.Strategy, error) {
	if p.ADXPeriod == 0 {
		p.ADXPeriod = 14
	}
	if p.ADXThreshold <= 0 {
		p.ADXThreshold = 20
	}
	return NewEMACross(symbol, p, log)
}

func (s *EMACross) Initialize(t broker.Trader, a market.Account) error {
	if _, ok := t.Instrument(s.symbol); !ok {
		return fmt.Errorf("ema-cross: %w: %s", broker.ErrUnknownSymbol, s.symbol)
	}
	s.t = t
	s.dayStart = a.Balance
	return nil
}

func (s *EMACross) OnTick(market.Tick) {}
func (s *EMACross) OnRelease()         {}

// Lookback is the number of bars fed to the indicators.
func (s *EMACross) Lookback() int { return 10 * max(s.p.Slow, s.p.ADXPeriod) }

func (s *EMACross) OnRate(r market.Rate) {
	if r.Symbol != s.symbol {
		return
	}
	if d := r.Time.UTC().Truncate(24 * time.Hour); !d.Equal(s.day) {
		s.day = d
		s.dayStart = s.t.Account().Balance
	}

	dir := s.signal(r.TimeFrame)
	if dir == 0 {
		return
	}
	if err := s.onSignal(context.Background(), dir); err != nil {
		s.log.Warn().Err(err).Str("signal", signalName(dir)).Msg("signal")
	}
}

// signal returns Buy on a bullish cross of the last closed bar, Sell on a
// bearish one and 0 otherwise.
func (s *EMACross) signal(tf market.TimeFrame) trade.Direction {
	in, ok := s.t.Instrument(s.symbol)
	if !ok {
		return 0
	}
	bars := in.Rates(tf).List(s.Lookback())
	if len(bars) <= s.p.Slow {
		return 0
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[len(bars)-1-i] = b.Close
	}
	fast := talib.Ema(closes, s.p.Fast)
	slow := talib.Ema(closes, s.p.Slow)
	n := len(closes) - 1
	diff := fast[n] - slow[n]
	prev := fast[n-1] - slow[n-1]
	var dir trade.Direction
	switch {
	case diff > 0 && prev <= 0:
		dir = trade.Buy
	case diff < 0 && prev >= 0:
		dir = trade.Sell
	default:
		return 0
	}
	if s.p.ADXPeriod > 0 && !s.trending(bars, dir) {
		return 0
	}
	return dir
}

// trending applies the ADX gate to a cross in direction dir. With RequireDI
// the directional indexes must agree with it.
func (s *EMACross) trending(bars []market.Rate, dir trade.Direction) bool {
	if len(bars) <= 2*s.p.ADXPeriod {
		return false
	}
	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		j := len(bars) - 1 - i
		high[j], low[j], closes[j] = b.High, b.Low, b.Close
	}
	n := len(bars) - 1
	adx := talib.Adx(high, low, closes, s.p.ADXPeriod)
	if adx[n] < s.p.ADXThreshold {
		s.log.Debug().Float64("adx", adx[n]).Str("signal", signalName(dir)).Msg("trend too weak")
		return false
	}
	if !s.p.RequireDI {
		return true
	}
	plus := talib.PlusDI(high, low, closes, s.p.ADXPeriod)[n]
	minus := talib.MinusDI(high, low, closes, s.p.ADXPeriod)[n]
	if dir == trade.Buy {
		return plus > minus
	}
	return minus > plus
}

func signalName(dir trade.Direction) string {
	if dir == trade.Buy {
		return "BullCross"
	}
	return "BearCross"
}

func (s *EMACross) onSignal(ctx context.Context, dir trade.Direction) error {
	open := 0
	if p, ok := s.t.Position(s.symbol); ok {
		if p.Direction() == dir {
			return nil
		}
		px, err := s.exitPrice(p.Direction())
		if err != nil {
			return err
		}
		if _, err := s.t.Close(ctx, p, px, s.p.Deviation); err != nil {
			return fmt.Errorf("close on %s: %w", signalName(dir), err)
		}
		s.log.Info().Int64("position", p.ID()).Str("reason", "ExitOn"+signalName(dir)).Msg("closed")
	}
	if _, still := s.t.Position(s.symbol); still {
		open = 1
	}
	return s.enter(ctx, dir, open)
}

func (s *EMACross) exitPrice(held trade.Direction) (float64, error) {
	if held == trade.Buy {
		return s.t.Bid(s.symbol)
	}
	return s.t.Ask(s.symbol)
}

func (s *EMACross) enter(ctx context.Context, dir trade.Direction, open int) error {
	in, _ := s.t.Instrument(s.symbol)
	meta := in.InstrumentMeta
	acct := s.t.Account()

	var entry float64
	var err error
	if dir == trade.Buy {
		entry, err = s.t.Ask(s.symbol)
	} else {
		entry, err = s.t.Bid(s.symbol)
	}
	if err != nil {
		return err
	}
	entry = round(entry, meta.Digits)

	dist := meta.PipsToPrice(s.p.StopPips)
	sl := round(entry-float64(dir)*dist, meta.Digits)
	tp := round(entry+float64(dir)*dist*s.p.RR, meta.Digits)

	conv, err := market.QuoteToAccountRate(meta, acct.Currency, quotes{s.t})
	if err != nil {
		return err
	}
	volume := s.p.Volume
	if s.p.RiskPct > 0 {
		size := risk.Size(risk.Inputs{
			Equity:         acct.Equity,
			RiskPct:        s.p.RiskPct,
			Entry:          entry,
			Stop:           sl,
			QuoteToAccount: conv,
			Instrument:     meta,
		})
		if size.Volume <= 0 {
			return fmt.Errorf("risk %.2f too small for one %g lot step", size.RiskAmount, meta.VolumeStep)
		}
		volume = size.Volume
	}

	d := risk.Evaluate(s.p.Policy, risk.Intent{
		Symbol:         s.symbol,
		Volume:         volume,
		Entry:          entry,
		Stop:           sl,
		TakeProfit:     tp,
		ContractSize:   meta.ContractSize,
		QuoteToAccount: conv,
	}, acct, open, acct.Balance-s.dayStart)
	if !d.Allowed {
		return fmt.Errorf("policy: %s", d.Error())
	}

	var o *trade.Order
	if dir == trade.Buy {
		o, err = s.t.Buy(ctx, s.symbol, entry, volume, s.p.Deviation, sl, tp)
	} else {
		o, err = s.t.Sell(ctx, s.symbol, entry, volume, s.p.Deviation, sl, tp)
	}
	if err != nil {
		return err
	}
	s.log.Info().
		Int64("order", o.ID()).
		Str("signal", signalName(dir)).
		Float64("entry", entry).
		Float64("sl", sl).
		Float64("tp", tp).
		Float64("volume", volume).
		Float64("risk_pct", d.PlannedRiskPct).
		Msg("entry")
	return nil
}
