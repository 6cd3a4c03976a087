package sim

import (
	"context"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

// Process executes the venue side of bar r: resting orders whose trigger
// price lies within the bar fill, then the open position's stop loss or
// take profit. A stop-limit activated here is matched from the next bar.
func (v *Venue) Process(ctx context.Context, r market.Rate) error {
	b := v.b
	if b == nil {
		return nil
	}
	for _, o := range b.PendingOrders(r.Symbol) {
		if err := ctx.Err(); err != nil {
			return err
		}
		px, hit := triggerPrice(o, r)
		if !hit {
			continue
		}
		if err := b.Trigger(ctx, o, px); err != nil {
			v.log.Info().Err(err).Int64("order", o.ID()).Msg("trigger")
		}
	}

	p, ok := b.Position(r.Symbol)
	if !ok {
		return nil
	}
	px, reason := exitPrice(p, r)
	if reason == "" {
		return nil
	}
	if _, err := b.StopOut(ctx, p, px); err != nil {
		return err
	}
	v.log.Info().Int64("position", p.ID()).Str("reason", reason).Float64("price", px).Msg("position closed")
	return nil
}

// triggerPrice reports whether o trades within r and at what price. An order
// the bar gapped through fills at the open.
func triggerPrice(o *trade.Order, r market.Rate) (float64, bool) {
	price := o.Price()
	if o.Type().Rule().Above {
		if r.High < price {
			return 0, false
		}
		if r.Open > price {
			return r.Open, true
		}
		return price, true
	}
	if r.Low > price {
		return 0, false
	}
	if r.Open < price {
		return r.Open, true
	}
	return price, true
}

func hitStopLoss(p *trade.Position, r market.Rate) bool {
	sl := p.StopLoss()
	if sl == 0 {
		return false
	}
	if p.Direction() == trade.Buy {
		return r.Low <= sl
	}
	return r.High >= sl
}

func hitTakeProfit(p *trade.Position, r market.Rate) bool {
	tp := p.TakeProfit()
	if tp == 0 {
		return false
	}
	if p.Direction() == trade.Buy {
		return r.High >= tp
	}
	return r.Low <= tp
}

// exitPrice returns where p leaves during r. The stop loss wins when both
// levels lie within the bar.
func exitPrice(p *trade.Position, r market.Rate) (float64, string) {
	long := p.Direction() == trade.Buy
	switch {
	case hitStopLoss(p, r):
		sl := p.StopLoss()
		if (long && r.Open < sl) || (!long && r.Open > sl) {
			return r.Open, "StopLoss"
		}
		return sl, "StopLoss"
	case hitTakeProfit(p, r):
		tp := p.TakeProfit()
		if (long && r.Open > tp) || (!long && r.Open < tp) {
			return r.Open, "TakeProfit"
		}
		return tp, "TakeProfit"
	}
	return 0, ""
}
