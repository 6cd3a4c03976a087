package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

func (b *Broker) Buy(ctx context.Context, symbol string, price, volume float64, deviation int, sl, tp float64) (*trade.Order, error) {
	return b.marketOrder(ctx, "buy", trade.OrderBuy, symbol, price, volume, deviation, sl, tp)
}

func (b *Broker) Sell(ctx context.Context, symbol string, price, volume float64, deviation int, sl, tp float64) (*trade.Order, error) {
	return b.marketOrder(ctx, "sell", trade.OrderSell, symbol, price, volume, deviation, sl, tp)
}

func (b *Broker) BuyLimit(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error) {
	return b.place(ctx, "buy_limit", trade.OrderBuyLimit, symbol, trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp})
}

func (b *Broker) SellLimit(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error) {
	return b.place(ctx, "sell_limit", trade.OrderSellLimit, symbol, trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp})
}

func (b *Broker) BuyStop(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error) {
	return b.place(ctx, "buy_stop", trade.OrderBuyStop, symbol, trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp})
}

func (b *Broker) SellStop(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error) {
	return b.place(ctx, "sell_stop", trade.OrderSellStop, symbol, trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp})
}

func (b *Broker) BuyStopLimit(ctx context.Context, symbol string, price, stopLimit, volume, sl, tp float64) (*trade.Order, error) {
	return b.place(ctx, "buy_stop_limit", trade.OrderBuyStopLimit, symbol,
		trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp, StopLimit: stopLimit})
}

func (b *Broker) SellStopLimit(ctx context.Context, symbol string, price, stopLimit, volume, sl, tp float64) (*trade.Order, error) {
	return b.place(ctx, "sell_stop_limit", trade.OrderSellStopLimit, symbol,
		trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp, StopLimit: stopLimit})
}

func (b *Broker) marketOrder(ctx context.Context, op string, typ trade.OrderType, symbol string, price, volume float64, deviation int, sl, tp float64) (*trade.Order, error) {
	if err := contextErr(ctx, op, symbol); err != nil {
		return nil, b.refuse(err)
	}
	in, err := b.instrument(op, symbol)
	if err != nil {
		return nil, b.refuse(err)
	}
	if price <= 0 {
		return nil, b.refuse(trade.Errorf(trade.ReasonInvalidPrice, op, symbol, "price %v", price))
	}
	if err := checkVolume(op, in, volume); err != nil {
		return nil, b.refuse(err)
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	q, err := b.quote(op, in)
	if err != nil {
		return nil, b.refuse(err)
	}
	rule := typ.Rule()
	fillAt := q.at(rule.Anchor)
	if err := checkDeviation(op, in, rule.Direction, price, fillAt, deviation); err != nil {
		return nil, b.refuse(err)
	}
	if err := checkStops(op, symbol, rule.Direction, q.at(rule.CloseAnchor()), sl, tp, q.stop); err != nil {
		return nil, b.refuse(err)
	}

	pos, _ := b.Position(symbol)
	adds := opening(pos, rule.Direction, dec(volume))
	if err := checkMode(op, in, rule.Direction, adds.IsPositive()); err != nil {
		return nil, b.refuse(err)
	}
	if err := b.checkMargin(op, in, adds, fillAt); err != nil {
		return nil, b.refuse(err)
	}
	conv, err := b.profitRate(op, in, pos, rule.Direction)
	if err != nil {
		return nil, b.refuse(err)
	}

	lv := trade.Levels{Price: fillAt, Volume: volume, StopLoss: sl, TakeProfit: tp}
	if b.exec != nil {
		px, err := b.exec.Execute(ctx, Request{Action: ActionOpen, Symbol: symbol, Type: typ, Levels: lv, Deviation: deviation})
		if err != nil {
			return nil, b.refuse(executorErr(op, symbol, err))
		}
		if px > 0 {
			lv.Price = px
		}
	}

	b.mu.Lock()
	o := trade.NewOrder(b.nextID(), symbol, typ, lv, b.now)
	b.trackLocked(o)
	deals := b.fillLocked(in, o, lv.Price, conv)
	b.mu.Unlock()

	b.notify(deals)
	return o, nil
}

func (b *Broker) place(ctx context.Context, op string, typ trade.OrderType, symbol string, lv trade.Levels) (*trade.Order, error) {
	if err := contextErr(ctx, op, symbol); err != nil {
		return nil, b.refuse(err)
	}
	in, err := b.instrument(op, symbol)
	if err != nil {
		return nil, b.refuse(err)
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	q, err := b.quote(op, in)
	if err != nil {
		return nil, b.refuse(err)
	}
	if err := b.checkPending(op, in, typ, lv, q); err != nil {
		return nil, b.refuse(err)
	}
	if b.maxPending > 0 && len(b.PendingOrders(symbol)) >= b.maxPending {
		return nil, b.refuse(trade.Errorf(trade.ReasonLimitOrders, op, symbol, "%d pending orders", b.maxPending))
	}

	id := b.nextID()
	if b.exec != nil {
		if _, err := b.exec.Execute(ctx, Request{Action: ActionPlace, OrderID: id, Symbol: symbol, Type: typ, Levels: lv}); err != nil {
			return nil, b.refuse(executorErr(op, symbol, err))
		}
	}

	b.mu.Lock()
	o := trade.NewOrder(id, symbol, typ, lv, b.now)
	o.SetState(trade.StatePlaced, b.now)
	b.trackLocked(o)
	b.mu.Unlock()

	b.log.Info().Int64("order", id).Str("symbol", symbol).Str("type", typ.String()).
		Float64("price", lv.Price).Float64("volume", lv.Volume).Msg("order placed")
	return o, nil
}

// Modify changes the levels of a resting order.
func (b *Broker) Modify(ctx context.Context, o *trade.Order, price, volume, sl, tp float64) error {
	const op = "modify"
	if o == nil {
		return b.refuse(trade.Errorf(trade.ReasonInvalidOrder, op, "", "nil order"))
	}
	sym := o.Symbol()
	if err := contextErr(ctx, op, sym); err != nil {
		return b.refuse(err)
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	if have, ok := b.Order(o.ID()); !ok || have != o {
		return b.refuse(trade.Errorf(trade.ReasonInvalidOrder, op, sym, "order %d unknown", o.ID()))
	}
	switch s := o.State(); {
	case s == trade.StateFilled || s == trade.StatePartial:
		return b.refuse(trade.Errorf(trade.ReasonReject, op, sym, "order %d is %s", o.ID(), s))
	case s.InFlight():
		return b.refuse(trade.Errorf(trade.ReasonLocked, op, sym, "order %d is %s", o.ID(), s))
	case s != trade.StatePlaced || !o.Type().IsPending():
		return b.refuse(trade.Errorf(trade.ReasonInvalidOrder, op, sym, "order %d is %s", o.ID(), s))
	}

	in, err := b.instrument(op, sym)
	if err != nil {
		return b.refuse(err)
	}
	q, err := b.quote(op, in)
	if err != nil {
		return b.refuse(err)
	}
	typ := o.Type()
	cur := o.Levels()
	anchor := q.at(typ.Rule().Anchor)
	if frozen(anchor, cur.Price, q.freeze) {
		return b.refuse(trade.Errorf(trade.ReasonFrozen, op, sym, "order %d at %v inside freeze band of %v", o.ID(), cur.Price, anchor))
	}

	next := trade.Levels{Price: price, Volume: volume, StopLoss: sl, TakeProfit: tp, StopLimit: cur.StopLimit}
	if next == cur {
		return b.refuse(trade.Errorf(trade.ReasonNoChanges, op, sym, "order %d unchanged", o.ID()))
	}
	if err := b.checkPending(op, in, typ, next, q); err != nil {
		return b.refuse(err)
	}
	if b.exec != nil {
		req := Request{Action: ActionModify, OrderID: o.ID(), Symbol: sym, Type: typ, Levels: next}
		if _, err := b.exec.Execute(ctx, req); err != nil {
			return b.refuse(executorErr(op, sym, err))
		}
	}

	o.ApplyLevels(next)
	b.log.Info().Int64("order", o.ID()).Float64("price", price).Float64("volume", volume).Msg("order modified")
	return nil
}

// Remove cancels a resting order. Orders already finished or awaiting a
// venue answer are left alone.
func (b *Broker) Remove(ctx context.Context, o *trade.Order) error {
	const op = "remove"
	if o == nil {
		return b.refuse(trade.Errorf(trade.ReasonInvalidOrder, op, "", "nil order"))
	}
	sym := o.Symbol()
	if err := contextErr(ctx, op, sym); err != nil {
		return b.refuse(err)
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	if have, ok := b.Order(o.ID()); !ok || have != o {
		return b.refuse(trade.Errorf(trade.ReasonInvalidOrder, op, sym, "order %d unknown", o.ID()))
	}
	switch s := o.State(); {
	case s == trade.StateFilled || s == trade.StatePartial:
		return b.refuse(trade.Errorf(trade.ReasonReject, op, sym, "order %d is %s", o.ID(), s))
	case s.Terminal() || s.InFlight():
		return nil
	case s != trade.StatePlaced:
		return b.refuse(trade.Errorf(trade.ReasonInvalidOrder, op, sym, "order %d is %s", o.ID(), s))
	}
	typ := o.Type()
	if !typ.IsPending() {
		return b.refuse(trade.Errorf(trade.ReasonFrozen, op, sym, "market order %d is executing", o.ID()))
	}

	in, err := b.instrument(op, sym)
	if err != nil {
		return b.refuse(err)
	}
	q, err := b.quote(op, in)
	if err != nil {
		return b.refuse(err)
	}
	anchor := q.at(typ.Rule().Anchor)
	if frozen(anchor, o.Price(), q.freeze) {
		return b.refuse(trade.Errorf(trade.ReasonFrozen, op, sym, "order %d at %v inside freeze band of %v", o.ID(), o.Price(), anchor))
	}
	if b.exec != nil {
		if _, err := b.exec.Execute(ctx, Request{Action: ActionRemove, OrderID: o.ID(), Symbol: sym, Type: typ}); err != nil {
			return b.refuse(executorErr(op, sym, err))
		}
	}

	o.SetState(trade.StateCanceled, b.Time())
	b.log.Info().Int64("order", o.ID()).Str("symbol", sym).Msg("order canceled")
	return nil
}

// ModifyPosition replaces the stop loss and take profit of p.
func (b *Broker) ModifyPosition(ctx context.Context, p *trade.Position, sl, tp float64) error {
	const op = "modify_position"
	in, q, err := b.openPosition(ctx, op, p)
	if err != nil {
		return err
	}
	defer b.tradeMu.Unlock()

	sym := p.Symbol()
	ref := closeRef(q, p.Direction())
	if err := checkStops(op, sym, p.Direction(), ref, sl, tp, q.stop); err != nil {
		return b.refuse(err)
	}
	if frozen(ref, p.StopLoss(), q.freeze) || frozen(ref, p.TakeProfit(), q.freeze) {
		return b.refuse(trade.Errorf(trade.ReasonFrozen, op, sym, "position %d stops inside freeze band of %v", p.ID(), ref))
	}
	if sl == p.StopLoss() && tp == p.TakeProfit() {
		return b.refuse(trade.Errorf(trade.ReasonNoChanges, op, sym, "position %d unchanged", p.ID()))
	}
	if b.exec != nil {
		req := Request{Action: ActionModifyPosition, PositionID: p.ID(), Symbol: sym, Levels: trade.Levels{StopLoss: sl, TakeProfit: tp}}
		if _, err := b.exec.Execute(ctx, req); err != nil {
			return b.refuse(executorErr(op, in.Symbol, err))
		}
	}

	p.SetStops(sl, tp)
	b.log.Info().Int64("position", p.ID()).Float64("sl", sl).Float64("tp", tp).Msg("position modified")
	return nil
}

// Close closes all of p at the current market price.
func (b *Broker) Close(ctx context.Context, p *trade.Position, price float64, deviation int) (*trade.Order, error) {
	if p == nil {
		return nil, b.refuse(trade.Errorf(trade.ReasonPositionClosed, "close", "", "nil position"))
	}
	return b.closeVolume(ctx, "close", p, price, p.Volume(), deviation)
}

// ClosePartial closes volume of p at the current market price.
func (b *Broker) ClosePartial(ctx context.Context, p *trade.Position, price, volume float64, deviation int) (*trade.Order, error) {
	return b.closeVolume(ctx, "close_partial", p, price, volume, deviation)
}

func (b *Broker) closeVolume(ctx context.Context, op string, p *trade.Position, price, volume float64, deviation int) (*trade.Order, error) {
	in, q, err := b.openPosition(ctx, op, p)
	if err != nil {
		return nil, err
	}
	defer b.tradeMu.Unlock()

	sym := p.Symbol()
	if price <= 0 {
		return nil, b.refuse(trade.Errorf(trade.ReasonInvalidPrice, op, sym, "price %v", price))
	}
	if volume <= 0 {
		return nil, b.refuse(trade.Errorf(trade.ReasonInvalidVolume, op, sym, "volume %v", volume))
	}
	if dec(volume).GreaterThan(p.VolumeDecimal()) {
		return nil, b.refuse(trade.Errorf(trade.ReasonInvalidCloseVolume, op, sym, "volume %v exceeds position %v", volume, p.Volume()))
	}
	ref := closeRef(q, p.Direction())
	if frozen(ref, p.StopLoss(), q.freeze) || frozen(ref, p.TakeProfit(), q.freeze) {
		return nil, b.refuse(trade.Errorf(trade.ReasonFrozen, op, sym, "position %d stops inside freeze band of %v", p.ID(), ref))
	}
	if err := checkDeviation(op, in, p.Direction().Opposite(), price, ref, deviation); err != nil {
		return nil, b.refuse(err)
	}
	if err := checkMode(op, in, p.Direction().Opposite(), false); err != nil {
		return nil, b.refuse(err)
	}
	conv, err := b.profitRate(op, in, p, p.Direction().Opposite())
	if err != nil {
		return nil, b.refuse(err)
	}

	typ := closingType(p.Direction())
	lv := trade.Levels{Price: ref, Volume: volume}
	if b.exec != nil {
		req := Request{Action: ActionClose, PositionID: p.ID(), Symbol: sym, Type: typ, Levels: lv, Deviation: deviation}
		px, err := b.exec.Execute(ctx, req)
		if err != nil {
			return nil, b.refuse(executorErr(op, sym, err))
		}
		if px > 0 {
			lv.Price = px
		}
	}

	b.mu.Lock()
	o := trade.NewOrder(b.nextID(), sym, typ, lv, b.now)
	b.trackLocked(o)
	deals := b.fillLocked(in, o, lv.Price, conv)
	b.mu.Unlock()

	b.notify(deals)
	return o, nil
}

// openPosition checks that p is the current open position of its symbol
// and takes the trade lock. The caller releases it on success.
func (b *Broker) openPosition(ctx context.Context, op string, p *trade.Position) (*market.Instrument, quote, error) {
	if p == nil {
		return nil, quote{}, b.refuse(trade.Errorf(trade.ReasonPositionClosed, op, "", "nil position"))
	}
	sym := p.Symbol()
	if err := contextErr(ctx, op, sym); err != nil {
		return nil, quote{}, b.refuse(err)
	}
	in, err := b.instrument(op, sym)
	if err != nil {
		return nil, quote{}, b.refuse(err)
	}

	b.tradeMu.Lock()
	if cur, ok := b.Position(sym); !ok || cur != p {
		b.tradeMu.Unlock()
		return nil, quote{}, b.refuse(trade.Errorf(trade.ReasonPositionClosed, op, sym, "position %d is not open", p.ID()))
	}
	q, err := b.quote(op, in)
	if err != nil {
		b.tradeMu.Unlock()
		return nil, quote{}, b.refuse(err)
	}
	return in, q, nil
}

// Trigger executes a resting order whose trigger price the venue has seen
// trade. A stop-limit turns into its limit order and keeps resting; any
// other order fills at price. An order that cannot be carried by the
// account is rejected.
func (b *Broker) Trigger(ctx context.Context, o *trade.Order, price float64) error {
	const op = "trigger"
	if o == nil {
		return trade.Errorf(trade.ReasonInvalidOrder, op, "", "nil order")
	}
	sym := o.Symbol()
	if err := contextErr(ctx, op, sym); err != nil {
		return err
	}
	in, err := b.instrument(op, sym)
	if err != nil {
		return err
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	typ := o.Type()
	if have, ok := b.Order(o.ID()); !ok || have != o || o.State() != trade.StatePlaced || !typ.IsPending() {
		return trade.Errorf(trade.ReasonInvalidOrder, op, sym, "order %d is not resting", o.ID())
	}

	if typ.IsStopLimit() {
		next := typ.Rule().Then
		limit := o.Levels().StopLimit
		o.Convert(next, limit)
		b.log.Info().Int64("order", o.ID()).Str("type", next.String()).Float64("price", limit).Msg("stop limit activated")
		return nil
	}

	dir := typ.Rule().Direction
	pos, _ := b.Position(sym)
	adds := opening(pos, dir, dec(o.Volume()))
	reject := func(err error) error {
		o.SetState(trade.StateRejected, b.Time())
		b.log.Info().Err(err).Int64("order", o.ID()).Msg("triggered order rejected")
		return err
	}
	if err := checkMode(op, in, dir, adds.IsPositive()); err != nil {
		return reject(err)
	}
	if err := b.checkMargin(op, in, adds, price); err != nil {
		return reject(err)
	}
	conv, err := b.profitRate(op, in, pos, dir)
	if err != nil {
		return reject(err)
	}

	b.mu.Lock()
	deals := b.fillLocked(in, o, price, conv)
	b.mu.Unlock()

	b.notify(deals)
	return nil
}

// StopOut closes all of p at price on behalf of the venue, for a stop loss
// or take profit that traded. Deviation and freeze rules do not apply.
func (b *Broker) StopOut(ctx context.Context, p *trade.Position, price float64) (*trade.Order, error) {
	const op = "stop_out"
	if p == nil {
		return nil, trade.Errorf(trade.ReasonPositionClosed, op, "", "nil position")
	}
	sym := p.Symbol()
	if err := contextErr(ctx, op, sym); err != nil {
		return nil, err
	}
	in, err := b.instrument(op, sym)
	if err != nil {
		return nil, err
	}

	b.tradeMu.Lock()
	defer b.tradeMu.Unlock()

	if cur, ok := b.Position(sym); !ok || cur != p {
		return nil, trade.Errorf(trade.ReasonPositionClosed, op, sym, "position %d is not open", p.ID())
	}
	conv, err := b.profitRate(op, in, p, p.Direction().Opposite())
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	o := trade.NewOrder(b.nextID(), sym, closingType(p.Direction()), trade.Levels{Price: price, Volume: p.Volume()}, b.now)
	b.trackLocked(o)
	deals := b.fillLocked(in, o, price, conv)
	b.mu.Unlock()

	b.notify(deals)
	return o, nil
}

// closeRef is the market price a position in dir closes at.
func closeRef(q quote, dir trade.Direction) float64 {
	if dir == trade.Buy {
		return q.bid
	}
	return q.ask
}

func closingType(dir trade.Direction) trade.OrderType {
	if dir == trade.Buy {
		return trade.OrderSell
	}
	return trade.OrderBuy
}

// profitRate returns the quote to account conversion needed when a dir
// request reduces pos. It is 1 when nothing is closed.
func (b *Broker) profitRate(op string, in *market.Instrument, pos *trade.Position, dir trade.Direction) (decimal.Decimal, error) {
	if pos == nil || pos.Direction() == dir {
		return decimal.NewFromInt(1), nil
	}
	ccy := b.Account().Currency
	if ccy == "" || ccy == in.QuoteCurrency {
		return decimal.NewFromInt(1), nil
	}
	r, err := market.QuoteToAccountRate(in.InstrumentMeta, ccy, b)
	if err != nil {
		return decimal.Zero, &trade.Error{Reason: trade.ReasonPriceOff, Op: op, Symbol: in.Symbol, Err: err}
	}
	return dec(r), nil
}

func (b *Broker) refuse(err error) error {
	b.log.Debug().Err(err).Msg("request refused")
	return err
}
