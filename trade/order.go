package trade

import (
	"sync"
	"time"
)

// Order is created by a trade request. Brokers mutate it through the
// Apply/Set methods while holding their own lock; readers may call the
// getters from any goroutine.
type Order struct {
	mu sync.RWMutex

	id      int64
	symbol  string
	typ     OrderType
	state   OrderState
	filling Filling

	price      float64
	volume     float64
	stopLoss   float64
	takeProfit float64
	stopLimit  float64

	positionID int64
	deals      []Deal
	setup      time.Time
	done       time.Time
}

// Levels are the request values an order is placed or modified with.
// Zero StopLoss/TakeProfit/StopLimit means unset.
type Levels struct {
	Price      float64
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	StopLimit  float64
}

func NewOrder(id int64, symbol string, typ OrderType, lv Levels, at time.Time) *Order {
	return &Order{
		id:         id,
		symbol:     symbol,
		typ:        typ,
		state:      StateStarted,
		price:      lv.Price,
		volume:     lv.Volume,
		stopLoss:   lv.StopLoss,
		takeProfit: lv.TakeProfit,
		stopLimit:  lv.StopLimit,
		setup:      at,
	}
}

func (o *Order) ID() int64      { return o.id }
func (o *Order) Symbol() string { return o.symbol }

func (o *Order) Type() OrderType {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.typ
}

func (o *Order) State() OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Order) Filling() Filling {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.filling
}

func (o *Order) Levels() Levels {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Levels{
		Price:      o.price,
		Volume:     o.volume,
		StopLoss:   o.stopLoss,
		TakeProfit: o.takeProfit,
		StopLimit:  o.stopLimit,
	}
}

func (o *Order) Price() float64  { return o.Levels().Price }
func (o *Order) Volume() float64 { return o.Levels().Volume }

func (o *Order) PositionID() int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.positionID
}

// Deals returns a copy of the fills recorded on the order.
func (o *Order) Deals() []Deal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Deal, len(o.deals))
	copy(out, o.deals)
	return out
}

// Profit is the realized profit of the order's deals.
func (o *Order) Profit() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var p float64
	for _, d := range o.deals {
		p += d.Profit
	}
	return p
}

func (o *Order) SetupTime() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.setup
}

func (o *Order) DoneTime() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.done
}

func (o *Order) SetState(s OrderState, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
	if s.Terminal() {
		o.done = at
	}
}

func (o *Order) SetFilling(f Filling) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filling = f
}

// ApplyLevels replaces the request values of a pending order.
func (o *Order) ApplyLevels(lv Levels) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = lv.Price
	o.volume = lv.Volume
	o.stopLoss = lv.StopLoss
	o.takeProfit = lv.TakeProfit
	o.stopLimit = lv.StopLimit
}

// Convert turns a triggered stop-limit into its limit order at the
// stop-limit price.
func (o *Order) Convert(typ OrderType, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.typ = typ
	o.price = price
	o.stopLimit = 0
}

func (o *Order) AddDeal(d Deal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deals = append(o.deals, d)
	o.positionID = d.PositionID
}
