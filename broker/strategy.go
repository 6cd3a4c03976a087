package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

// Trader is the trading surface handed to a strategy.
type Trader interface {
	Buy(ctx context.Context, symbol string, price, volume float64, deviation int, sl, tp float64) (*trade.Order, error)
	Sell(ctx context.Context, symbol string, price, volume float64, deviation int, sl, tp float64) (*trade.Order, error)
	BuyLimit(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error)
	SellLimit(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error)
	BuyStop(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error)
	SellStop(ctx context.Context, symbol string, price, volume, sl, tp float64) (*trade.Order, error)
	BuyStopLimit(ctx context.Context, symbol string, price, stopLimit, volume, sl, tp float64) (*trade.Order, error)
	SellStopLimit(ctx context.Context, symbol string, price, stopLimit, volume, sl, tp float64) (*trade.Order, error)
	Modify(ctx context.Context, o *trade.Order, price, volume, sl, tp float64) error
	Remove(ctx context.Context, o *trade.Order) error
	ModifyPosition(ctx context.Context, p *trade.Position, sl, tp float64) error
	Close(ctx context.Context, p *trade.Position, price float64, deviation int) (*trade.Order, error)
	ClosePartial(ctx context.Context, p *trade.Position, price, volume float64, deviation int) (*trade.Order, error)

	Orders(symbol string) []*trade.Order
	Order(id int64) (*trade.Order, bool)
	Position(symbol string) (*trade.Position, bool)
	Account() market.Account
	Instrument(symbol string) (*market.Instrument, bool)
	Bid(symbol string) (float64, error)
	Ask(symbol string) (float64, error)
}

var _ Trader = (*Broker)(nil)

// Strategy is user trading logic bound to one symbol and timeframe.
//
// OnTick may be skipped when the previous call has not returned yet.
// OnRate is always delivered, in order.
type Strategy interface {
	Initialize(t Trader, a market.Account) error
	OnTick(t market.Tick)
	OnRate(r market.Rate)
	OnRelease()
}

type registerOptions struct {
	tf market.TimeFrame
}

type RegisterOption func(*registerOptions)

// WithTimeFrame selects the bars delivered to OnRate. Default M1.
func WithTimeFrame(tf market.TimeFrame) RegisterOption {
	return func(o *registerOptions) { o.tf = tf }
}

// Registration binds a strategy to the broker until Unregister.
type Registration struct {
	b        *Broker
	strategy Strategy
	symbol   string
	tf       market.TimeFrame

	ready    atomic.Bool
	released atomic.Bool
	busy     atomic.Bool
	dropped  atomic.Int64
	once     sync.Once
}

func (r *Registration) Symbol() string              { return r.symbol }
func (r *Registration) TimeFrame() market.TimeFrame { return r.tf }
func (r *Registration) Strategy() Strategy          { return r.strategy }

// Dropped counts ticks skipped because the strategy was still busy.
func (r *Registration) Dropped() int64 { return r.dropped.Load() }

// Unregister stops dispatch and calls OnRelease once.
func (r *Registration) Unregister() {
	r.once.Do(func() {
		r.released.Store(true)
		r.b.regMu.Lock()
		if r.b.regs[r.symbol] == r {
			delete(r.b.regs, r.symbol)
		}
		r.b.regMu.Unlock()
		r.strategy.OnRelease()
		r.b.log.Info().Str("symbol", r.symbol).Str("timeframe", r.tf.String()).Msg("strategy released")
	})
}

func (r *Registration) active() bool { return r.ready.Load() && !r.released.Load() }

// deliverTick runs OnTick on its own goroutine unless a previous call is
// still running, in which case t is dropped.
func (r *Registration) deliverTick(t market.Tick) {
	if !r.active() {
		return
	}
	if !r.busy.CompareAndSwap(false, true) {
		r.dropped.Add(1)
		r.b.log.Debug().Str("symbol", r.symbol).Time("time", t.Time).Msg("tick dropped, strategy busy")
		return
	}
	r.b.inflight.Add(1)
	go func() {
		defer r.b.inflight.Done()
		defer r.busy.Store(false)
		defer r.recover("OnTick")
		r.strategy.OnTick(t)
	}()
}

func (r *Registration) deliverRate(rate market.Rate) {
	if !r.active() {
		return
	}
	defer r.recover("OnRate")
	r.strategy.OnRate(rate)
}

func (r *Registration) recover(cb string) {
	if v := recover(); v != nil {
		r.b.log.Error().Str("symbol", r.symbol).Str("callback", cb).
			Interface("panic", v).Msg("strategy callback panicked")
	}
}

// Register binds s to symbol. A symbol takes one strategy at a time.
func (b *Broker) Register(s Strategy, symbol string, opts ...RegisterOption) (*Registration, error) {
	ro := registerOptions{tf: market.M1}
	for _, o := range opts {
		o(&ro)
	}
	if _, ok := b.Instrument(symbol); !ok {
		return nil, fmt.Errorf("register %s: %w", symbol, ErrUnknownSymbol)
	}

	reg := &Registration{b: b, strategy: s, symbol: symbol, tf: ro.tf}

	b.regMu.Lock()
	if _, bound := b.regs[symbol]; bound {
		b.regMu.Unlock()
		return nil, fmt.Errorf("register %s: %w", symbol, ErrSymbolBound)
	}
	b.regs[symbol] = reg
	b.regMu.Unlock()

	undo := func() {
		b.regMu.Lock()
		delete(b.regs, symbol)
		b.regMu.Unlock()
	}

	if b.hook != nil {
		if err := b.hook(symbol, ro.tf); err != nil {
			undo()
			return nil, fmt.Errorf("register %s: %w", symbol, err)
		}
	}
	if err := s.Initialize(b, b.Account()); err != nil {
		undo()
		return nil, fmt.Errorf("register %s: initialize: %w", symbol, err)
	}
	reg.ready.Store(true)

	b.log.Info().Str("symbol", symbol).Str("timeframe", ro.tf.String()).Msg("strategy registered")
	return reg, nil
}

// Registrations lists the active bindings.
func (b *Broker) Registrations() []*Registration {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	out := make([]*Registration, 0, len(b.regs))
	for _, r := range b.regs {
		out = append(out, r)
	}
	return out
}

func (b *Broker) registration(symbol string) *Registration {
	b.regMu.RLock()
	defer b.regMu.RUnlock()
	return b.regs[symbol]
}

// Wait blocks until every in-flight OnTick has returned.
func (b *Broker) Wait() { b.inflight.Wait() }

// ReleaseAll unregisters every strategy after in-flight ticks finish.
func (b *Broker) ReleaseAll() {
	b.Wait()
	for _, r := range b.Registrations() {
		r.Unregister()
	}
}
