package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

func (b *Broker) trackLocked(o *trade.Order) {
	b.orders[o.ID()] = o
	b.bySymbol[o.Symbol()] = append(b.bySymbol[o.Symbol()], o)
}

// fillLocked executes o at price against the symbol's net position and
// returns the deals booked. conv converts quote currency profit into the
// account currency.
//
//   - no position: open one with an IN deal
//   - same direction: IN deal, the position grows
//   - opposite, smaller: OUT deal for the whole order
//   - opposite, equal or larger: OUT deal for the position volume, which
//     terminates it; any residual opens a new position through a new order
func (b *Broker) fillLocked(in *market.Instrument, o *trade.Order, price float64, conv decimal.Decimal) []trade.Deal {
	at := b.now
	sym := o.Symbol()
	dir := o.Type().Rule().Direction
	lv := o.Levels()
	v := dec(lv.Volume)

	var deals []trade.Deal
	pos := b.positions[sym]

	switch {
	case pos == nil:
		deals = append(deals, b.openLocked(o, dir, price, v, lv, at))

	case pos.Direction() == dir:
		d := b.dealLocked(o, pos.ID(), dir, trade.EntryIn, price, v, decimal.Zero, at)
		pos.AddOrder(o)
		if lv.StopLoss != 0 || lv.TakeProfit != 0 {
			pos.SetStops(lv.StopLoss, lv.TakeProfit)
		}
		deals = append(deals, d)

	default:
		pv := pos.VolumeDecimal()
		out := decimal.Min(v, pv)
		profit := dec(price).Sub(dec(pos.AveragePrice())).
			Mul(out).
			Mul(dec(in.ContractSize)).
			Mul(decimal.NewFromInt(int64(pos.Direction()))).
			Mul(conv)
		d := b.dealLocked(o, pos.ID(), dir, trade.EntryOut, price, out, profit, at)
		pos.AddOrder(o)
		deals = append(deals, d)

		if !out.LessThan(pv) {
			pos.MarkClosed()
			delete(b.positions, sym)
			b.closed = append(b.closed, pos)
		}
		if v.GreaterThan(pv) {
			rest := trade.Levels{Price: price, Volume: v.Sub(pv).InexactFloat64(), StopLoss: lv.StopLoss, TakeProfit: lv.TakeProfit}
			ro := trade.NewOrder(b.nextID(), sym, o.Type().MarketType(), rest, at)
			b.trackLocked(ro)
			deals = append(deals, b.openLocked(ro, dir, price, v.Sub(pv), rest, at))
			ro.SetState(trade.StateFilled, at)
		}
	}

	o.SetState(trade.StateFilled, at)
	b.deals = append(b.deals, deals...)
	return deals
}

func (b *Broker) openLocked(o *trade.Order, dir trade.Direction, price float64, v decimal.Decimal, lv trade.Levels, at time.Time) trade.Deal {
	pos := trade.NewPosition(b.nextID(), o.Symbol(), dir, price, lv.StopLoss, lv.TakeProfit, at)
	d := b.dealLocked(o, pos.ID(), dir, trade.EntryIn, price, v, decimal.Zero, at)
	pos.AddOrder(o)
	b.positions[o.Symbol()] = pos
	return d
}

func (b *Broker) dealLocked(o *trade.Order, posID int64, dir trade.Direction, entry trade.DealEntry, price float64, v, profit decimal.Decimal, at time.Time) trade.Deal {
	d := trade.Deal{
		ID:         b.nextID(),
		OrderID:    o.ID(),
		PositionID: posID,
		Symbol:     o.Symbol(),
		Time:       at,
		Type:       trade.DealTypeOf(dir),
		Entry:      entry,
		Price:      price,
		Volume:     v.InexactFloat64(),
		Profit:     profit.Round(2).InexactFloat64(),
	}
	o.AddDeal(d)
	return d
}
