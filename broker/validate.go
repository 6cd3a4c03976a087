package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

// quote is the venue state a request is validated against.
type quote struct {
	bid, ask     float64
	stop, freeze decimal.Decimal
}

func (q quote) at(a trade.Anchor) float64 {
	if a == trade.AnchorAsk {
		return q.ask
	}
	return q.bid
}

func (b *Broker) quote(op string, in *market.Instrument) (quote, error) {
	bid, err := b.venue.Bid(in.Symbol)
	if err != nil {
		return quote{}, &trade.Error{Reason: trade.ReasonPriceOff, Op: op, Symbol: in.Symbol, Err: err}
	}
	ask, err := b.venue.Ask(in.Symbol)
	if err != nil {
		return quote{}, &trade.Error{Reason: trade.ReasonPriceOff, Op: op, Symbol: in.Symbol, Err: err}
	}
	if bid <= 0 || ask <= 0 {
		return quote{}, &trade.Error{Reason: trade.ReasonPriceOff, Op: op, Symbol: in.Symbol, Err: ErrNoQuote}
	}
	return quote{
		bid:    bid,
		ask:    ask,
		stop:   in.PointDistance(b.venue.StopLevel(in.Symbol)),
		freeze: in.PointDistance(b.venue.FreezeLevel(in.Symbol)),
	}, nil
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func distance(a, b float64) decimal.Decimal { return dec(a).Sub(dec(b)).Abs() }

func checkVolume(op string, in *market.Instrument, volume float64) error {
	if volume <= 0 {
		return trade.Errorf(trade.ReasonInvalidVolume, op, in.Symbol, "volume %v", volume)
	}
	v := dec(volume)
	if in.VolumeMin > 0 && v.LessThan(dec(in.VolumeMin)) {
		return trade.Errorf(trade.ReasonLimitVolume, op, in.Symbol, "volume %v below minimum %v", volume, in.VolumeMin)
	}
	if in.VolumeMax > 0 && v.GreaterThan(dec(in.VolumeMax)) {
		return trade.Errorf(trade.ReasonLimitVolume, op, in.Symbol, "volume %v above maximum %v", volume, in.VolumeMax)
	}
	if in.VolumeStep > 0 && !v.Mod(dec(in.VolumeStep)).IsZero() {
		return trade.Errorf(trade.ReasonInvalidVolume, op, in.Symbol, "volume %v not a multiple of %v", volume, in.VolumeStep)
	}
	return nil
}

// checkMode applies the instrument trade mode to a request in direction dir
// that adds exposure when opening is true.
func checkMode(op string, in *market.Instrument, dir trade.Direction, opening bool) error {
	switch in.Mode {
	case market.TradeDisabled:
		return trade.Errorf(trade.ReasonTradeDisabled, op, in.Symbol, "trading disabled")
	case market.TradeCloseOnly:
		if opening {
			return trade.Errorf(trade.ReasonCloseOnly, op, in.Symbol, "only closing allowed")
		}
	case market.TradeLongOnly:
		if opening && dir == trade.Sell {
			return trade.Errorf(trade.ReasonLongOnly, op, in.Symbol, "only long positions allowed")
		}
	case market.TradeShortOnly:
		if opening && dir == trade.Buy {
			return trade.Errorf(trade.ReasonShortOnly, op, in.Symbol, "only short positions allowed")
		}
	}
	return nil
}

// checkStops validates SL/TP for a position in direction dir measured from
// ref. A zero level is unset.
func checkStops(op, symbol string, dir trade.Direction, ref, sl, tp float64, stop decimal.Decimal) error {
	if sl < 0 || tp < 0 {
		return trade.Errorf(trade.ReasonInvalidStops, op, symbol, "negative stop level")
	}
	if sl != 0 {
		wrongSide := (dir == trade.Buy && sl >= ref) || (dir == trade.Sell && sl <= ref)
		if wrongSide {
			return trade.Errorf(trade.ReasonInvalidStops, op, symbol, "stop loss %v on the wrong side of %v", sl, ref)
		}
		if distance(ref, sl).LessThan(stop) {
			return trade.Errorf(trade.ReasonInvalidStops, op, symbol, "stop loss %v closer than %s to %v", sl, stop, ref)
		}
	}
	if tp != 0 {
		wrongSide := (dir == trade.Buy && tp <= ref) || (dir == trade.Sell && tp >= ref)
		if wrongSide {
			return trade.Errorf(trade.ReasonInvalidStops, op, symbol, "take profit %v on the wrong side of %v", tp, ref)
		}
		if distance(ref, tp).LessThan(stop) {
			return trade.Errorf(trade.ReasonInvalidStops, op, symbol, "take profit %v closer than %s to %v", tp, stop, ref)
		}
	}
	return nil
}

// frozen reports whether level lies inside the freeze band around ref.
func frozen(ref, level float64, freeze decimal.Decimal) bool {
	if level == 0 {
		return false
	}
	return distance(ref, level).LessThanOrEqual(freeze)
}

// requiredMargin is volume*contractSize/leverage*price*marginRate in the
// account currency.
func (b *Broker) requiredMargin(in *market.Instrument, volume decimal.Decimal, price float64, acct market.Account) (decimal.Decimal, error) {
	lev := int64(acct.Leverage)
	if lev <= 0 {
		lev = 1
	}
	rate := in.MarginRate
	if rate <= 0 {
		rate = 1
	}
	req := volume.
		Mul(dec(in.ContractSize)).
		Div(decimal.NewFromInt(lev)).
		Mul(dec(price)).
		Mul(dec(rate))

	if acct.Currency == "" || acct.Currency == in.QuoteCurrency {
		return req, nil
	}
	conv, err := market.QuoteToAccountRate(in.InstrumentMeta, acct.Currency, b)
	if err != nil {
		return decimal.Zero, err
	}
	return req.Mul(dec(conv)), nil
}

func (b *Broker) checkMargin(op string, in *market.Instrument, volume decimal.Decimal, price float64) error {
	if !volume.IsPositive() {
		return nil
	}
	acct := b.Account()
	req, err := b.requiredMargin(in, volume, price, acct)
	if err != nil {
		return &trade.Error{Reason: trade.ReasonPriceOff, Op: op, Symbol: in.Symbol, Err: err}
	}
	if dec(acct.Margin).LessThan(req) {
		return trade.Errorf(trade.ReasonNoMoney, op, in.Symbol, "margin %v below required %s", acct.Margin, req.StringFixed(2))
	}
	return nil
}

// opening returns the part of a dir/volume request that adds exposure on
// top of pos.
func opening(pos *trade.Position, dir trade.Direction, volume decimal.Decimal) decimal.Decimal {
	if pos == nil || pos.Direction() == dir {
		return volume
	}
	rest := volume.Sub(pos.VolumeDecimal())
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// checkPending runs the placement rules for a resting order of type typ.
func (b *Broker) checkPending(op string, in *market.Instrument, typ trade.OrderType, lv trade.Levels, q quote) error {
	rule := typ.Rule()
	sym := in.Symbol

	if lv.Price <= 0 {
		return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "price %v", lv.Price)
	}
	if err := checkVolume(op, in, lv.Volume); err != nil {
		return err
	}

	anchor := q.at(rule.Anchor)
	side := "below"
	ok := lv.Price < anchor
	if rule.Above {
		side = "above"
		ok = lv.Price > anchor
	}
	if !ok {
		return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "%s price %v must be %s %v", typ, lv.Price, side, anchor)
	}

	dist := distance(anchor, lv.Price)
	if dist.LessThan(q.stop) {
		return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "price %v closer than %s to %v", lv.Price, q.stop, anchor)
	}

	entry := lv.Price
	if typ.IsStopLimit() {
		if lv.StopLimit <= 0 {
			return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "stop limit %v", lv.StopLimit)
		}
		// the limit rests on the far side of the stop that activates it
		if (rule.Direction == trade.Buy && lv.StopLimit >= lv.Price) ||
			(rule.Direction == trade.Sell && lv.StopLimit <= lv.Price) {
			return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "stop limit %v on the wrong side of %v", lv.StopLimit, lv.Price)
		}
		if distance(lv.Price, lv.StopLimit).LessThan(q.stop) {
			return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "stop limit %v closer than %s to %v", lv.StopLimit, q.stop, lv.Price)
		}
		entry = lv.StopLimit
	}
	if err := checkStops(op, sym, rule.Direction, entry, lv.StopLoss, lv.TakeProfit, q.stop); err != nil {
		return err
	}

	if !dist.GreaterThan(q.freeze) {
		return trade.Errorf(trade.ReasonInvalidPrice, op, sym, "price %v inside freeze band %s of %v", lv.Price, q.freeze, anchor)
	}

	if err := checkMode(op, in, rule.Direction, true); err != nil {
		return err
	}
	return b.checkMargin(op, in, dec(lv.Volume), entry)
}

// checkDeviation fails when a dir trade would execute at market more than
// deviation points worse than requested. A deviation of zero or less
// disables the check.
func checkDeviation(op string, in *market.Instrument, dir trade.Direction, requested, fill float64, deviation int) error {
	if deviation <= 0 {
		return nil
	}
	slip := dec(fill).Sub(dec(requested))
	if dir == trade.Sell {
		slip = slip.Neg()
	}
	if slip.GreaterThan(in.PointDistance(deviation)) {
		return trade.Errorf(trade.ReasonPriceChanged, op, in.Symbol, "price moved from %v to %v", requested, fill)
	}
	return nil
}

func contextErr(ctx context.Context, op, symbol string) error {
	if err := ctx.Err(); err != nil {
		reason := trade.ReasonError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = trade.ReasonTimeout
		}
		return &trade.Error{Reason: reason, Op: op, Symbol: symbol, Err: err}
	}
	return nil
}

func executorErr(op, symbol string, err error) error {
	if r := trade.ReasonOf(err); r != 0 {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &trade.Error{Reason: trade.ReasonTimeout, Op: op, Symbol: symbol, Err: err}
	}
	return &trade.Error{Reason: trade.ReasonConnection, Op: op, Symbol: symbol, Err: fmt.Errorf("execute: %w", err)}
}
