// Package broker implements the trading API shared by the live and the
// simulated venue: instrument and strategy registries, feed dispatch,
// order validation and position netting.
package broker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrSymbolBound   = errors.New("symbol already bound to a strategy")
	ErrNoQuote       = errors.New("no quote")
)

// Venue supplies price discovery. Stop and freeze levels are in points.
// Implementations must not call back into the Broker.
type Venue interface {
	Bid(symbol string) (float64, error)
	Ask(symbol string) (float64, error)
	StopLevel(symbol string) int
	FreezeLevel(symbol string) int
}

// Executor forwards a validated request to a live venue and returns the
// price it was executed at (0 keeps the requested price).
type Executor interface {
	Execute(ctx context.Context, req Request) (float64, error)
}

type Action string

const (
	ActionOpen           Action = "open"
	ActionPlace          Action = "place"
	ActionModify         Action = "modify"
	ActionRemove         Action = "remove"
	ActionModifyPosition Action = "modify_position"
	ActionClose          Action = "close"
)

type Request struct {
	Action     Action
	OrderID    int64
	PositionID int64
	Symbol     string
	Type       trade.OrderType
	Levels     trade.Levels
	Deviation  int
}

// DealListener observes booked deals. It runs on the requesting goroutine
// and must not issue trade requests.
type DealListener interface {
	OnDeal(d trade.Deal)
}

type DealListenerFunc func(trade.Deal)

func (f DealListenerFunc) OnDeal(d trade.Deal) { f(d) }

// RegisterHook runs when a strategy binds to a (symbol, timeframe) pair,
// before the strategy is initialized.
type RegisterHook func(symbol string, tf market.TimeFrame) error

type Option func(*Broker)

func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) { b.log = l }
}

func WithDealListener(l DealListener) Option {
	return func(b *Broker) { b.listeners = append(b.listeners, l) }
}

func WithRegisterHook(h RegisterHook) Option {
	return func(b *Broker) { b.hook = h }
}

func WithExecutor(e Executor) Option {
	return func(b *Broker) { b.exec = e }
}

// WithMaxPendingOrders caps resting orders per symbol. 0 is unlimited.
func WithMaxPendingOrders(n int) Option {
	return func(b *Broker) { b.maxPending = n }
}

func WithAccount(a market.Account) Option {
	return func(b *Broker) { b.account.Store(&a) }
}

type Broker struct {
	log        zerolog.Logger
	venue      Venue
	exec       Executor
	hook       RegisterHook
	maxPending int

	seq     atomic.Int64
	account atomic.Pointer[market.Account]

	// tradeMu serializes requests from validation to fill.
	tradeMu sync.Mutex

	mu          sync.RWMutex
	instruments map[string]*market.Instrument
	orders      map[int64]*trade.Order
	bySymbol    map[string][]*trade.Order
	positions   map[string]*trade.Position
	closed      []*trade.Position
	deals       []trade.Deal
	now         time.Time
	listeners   []DealListener

	regMu    sync.RWMutex
	regs     map[string]*Registration
	inflight sync.WaitGroup
}

func New(v Venue, opts ...Option) *Broker {
	b := &Broker{
		log:         zerolog.Nop(),
		venue:       v,
		instruments: make(map[string]*market.Instrument),
		orders:      make(map[int64]*trade.Order),
		bySymbol:    make(map[string][]*trade.Order),
		positions:   make(map[string]*trade.Position),
		regs:        make(map[string]*Registration),
	}
	for _, o := range opts {
		o(b)
	}
	if b.account.Load() == nil {
		b.account.Store(&market.Account{})
	}
	return b
}

// AddDealListener subscribes l to every deal booked from now on.
func (b *Broker) AddDealListener(l DealListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// AddInstrument registers meta. Adding an existing symbol returns the
// instrument already registered.
func (b *Broker) AddInstrument(meta market.InstrumentMeta) (*market.Instrument, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if in, ok := b.instruments[meta.Symbol]; ok {
		return in, nil
	}
	in := market.NewInstrument(meta)
	in.Bind(b)
	b.instruments[meta.Symbol] = in
	return in, nil
}

func (b *Broker) Instrument(symbol string) (*market.Instrument, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	in, ok := b.instruments[symbol]
	return in, ok
}

// Instruments lists registered symbols in order.
func (b *Broker) Instruments() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.instruments))
	for s := range b.instruments {
		out = append(out, s)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (b *Broker) Account() market.Account { return *b.account.Load() }

// SetAccount replaces the account snapshot without validation. Venues use it
// after revaluing.
func (b *Broker) SetAccount(a market.Account) { b.account.Store(&a) }

// Time is the broker's server time: the newest feed timestamp seen.
func (b *Broker) Time() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now
}

func (b *Broker) Bid(symbol string) (float64, error) { return b.venue.Bid(symbol) }
func (b *Broker) Ask(symbol string) (float64, error) { return b.venue.Ask(symbol) }
func (b *Broker) StopLevel(symbol string) int { return b.venue.StopLevel(symbol) }
func (b *Broker) FreezeLevel(symbol string) int { return b.venue.FreezeLevel(symbol) }

// GetTick reports the venue's current quote so the broker can serve as a
// market.TickSource for currency conversion.
func (b *Broker) GetTick(_ context.Context, symbol string) (market.Tick, error) {
	bid, err := b.venue.Bid(symbol)
	if err != nil {
		return market.Tick{}, err
	}
	ask, err := b.venue.Ask(symbol)
	if err != nil {
		return market.Tick{}, err
	}
	return market.Tick{Symbol: symbol, Bid: bid, Ask: ask}, nil
}

func (b *Broker) Order(id int64) (*trade.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// Orders returns every order on symbol in placement order.
func (b *Broker) Orders(symbol string) []*trade.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*trade.Order, len(b.bySymbol[symbol]))
	copy(out, b.bySymbol[symbol])
	return out
}

// PendingOrders returns the resting orders on symbol.
func (b *Broker) PendingOrders(symbol string) []*trade.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pendingLocked(symbol)
}

func (b *Broker) pendingLocked(symbol string) []*trade.Order {
	var out []*trade.Order
	for _, o := range b.bySymbol[symbol] {
		if o.State() == trade.StatePlaced && o.Type().IsPending() {
			out = append(out, o)
		}
	}
	return out
}

// Position returns the open position on symbol.
func (b *Broker) Position(symbol string) (*trade.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[symbol]
	return p, ok
}

// Positions returns every open position.
func (b *Broker) Positions() []*trade.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*trade.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ClosedPositions returns terminated positions, oldest first.
func (b *Broker) ClosedPositions() []*trade.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*trade.Position, len(b.closed))
	copy(out, b.closed)
	return out
}

// Deals returns the deal history, oldest first.
func (b *Broker) Deals() []trade.Deal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]trade.Deal, len(b.deals))
	copy(out, b.deals)
	return out
}

// OnTick applies a quote update and dispatches it to the strategy bound to
// the symbol. Bad updates are logged and dropped.
func (b *Broker) OnTick(t market.Tick) {
	in, ok := b.Instrument(t.Symbol)
	if !ok {
		b.log.Warn().Str("symbol", t.Symbol).Msg("tick for unknown symbol dropped")
		return
	}
	if t.Bid <= 0 || t.Ask <= 0 || t.Ask < t.Bid || t.Time.IsZero() {
		b.log.Warn().Str("symbol", t.Symbol).Float64("bid", t.Bid).Float64("ask", t.Ask).
			Msg("malformed tick dropped")
		return
	}
	if err := in.OnTick(t); err != nil {
		b.log.Warn().Err(err).Msg("tick dropped")
		return
	}
	b.advance(t.Time)

	if r := b.registration(t.Symbol); r != nil {
		r.deliverTick(t)
	}
}

// OnRate appends a closed bar and dispatches it when it is new and matches
// the bound timeframe.
func (b *Broker) OnRate(r market.Rate) {
	in, ok := b.Instrument(r.Symbol)
	if !ok {
		b.log.Warn().Str("symbol", r.Symbol).Msg("rate for unknown symbol dropped")
		return
	}
	added, err := in.OnRate(r)
	if err != nil {
		b.log.Warn().Err(err).Str("symbol", r.Symbol).Msg("rate dropped")
		return
	}
	if !added {
		b.log.Debug().Str("symbol", r.Symbol).Time("time", r.Time).Msg("duplicate rate ignored")
		return
	}
	b.advance(r.Time)

	if reg := b.registration(r.Symbol); reg != nil && reg.tf == r.TimeFrame {
		reg.deliverRate(r)
	}
}

// OnAccountUpdate replaces the account snapshot.
func (b *Broker) OnAccountUpdate(a market.Account) {
	if a.Currency == "" || a.Leverage <= 0 {
		b.log.Warn().Str("currency", a.Currency).Int("leverage", a.Leverage).
			Msg("malformed account update dropped")
		return
	}
	b.account.Store(&a)
	b.advance(a.Time)
}

func (b *Broker) advance(t time.Time) {
	b.mu.Lock()
	if t.After(b.now) {
		b.now = t
	}
	b.mu.Unlock()
}

func (b *Broker) nextID() int64 { return b.seq.Add(1) }

func (b *Broker) instrument(op, symbol string) (*market.Instrument, error) {
	in, ok := b.Instrument(symbol)
	if !ok {
		return nil, &trade.Error{Reason: trade.ReasonInvalid, Op: op, Symbol: symbol, Err: ErrUnknownSymbol}
	}
	return in, nil
}

func (b *Broker) notify(deals []trade.Deal) {
	if len(deals) == 0 {
		return
	}
	b.mu.RLock()
	ls := make([]DealListener, len(b.listeners))
	copy(ls, b.listeners)
	b.mu.RUnlock()

	for _, d := range deals {
		b.log.Info().
			Int64("deal", d.ID).
			Int64("order", d.OrderID).
			Int64("position", d.PositionID).
			Str("symbol", d.Symbol).
			Str("type", d.Type.String()).
			Str("entry", d.Entry.String()).
			Float64("price", d.Price).
			Float64("volume", d.Volume).
			Float64("profit", d.Profit).
			Msg("deal")
		for _, l := range ls {
			l.OnDeal(d)
		}
	}
}

