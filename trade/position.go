package trade

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net exposure on one instrument. Its volume and profit
// are derived from the deals of its orders.
type Position struct {
	mu sync.RWMutex

	id         int64
	symbol     string
	direction  Direction
	openPrice  float64
	openTime   time.Time
	stopLoss   float64
	takeProfit float64

	orders []*Order
	closed bool
}

func NewPosition(id int64, symbol string, dir Direction, openPrice, sl, tp float64, at time.Time) *Position {
	return &Position{
		id:         id,
		symbol:     symbol,
		direction:  dir,
		openPrice:  openPrice,
		openTime:   at,
		stopLoss:   sl,
		takeProfit: tp,
	}
}

func (p *Position) ID() int64            { return p.id }
func (p *Position) Symbol() string       { return p.symbol }
func (p *Position) Direction() Direction { return p.direction }
func (p *Position) OpenPrice() float64   { return p.openPrice }
func (p *Position) OpenTime() time.Time  { return p.openTime }

func (p *Position) StopLoss() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopLoss
}

func (p *Position) TakeProfit() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.takeProfit
}

func (p *Position) Orders() []*Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Deals returns the deals booked against this position, oldest first.
func (p *Position) Deals() []Deal {
	var out []Deal
	for _, o := range p.Orders() {
		for _, d := range o.Deals() {
			if d.PositionID == p.id {
				out = append(out, d)
			}
		}
	}
	return out
}

// VolumeDecimal is the exact open volume.
func (p *Position) VolumeDecimal() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range p.Deals() {
		sum = sum.Add(decimal.NewFromFloat(d.Signed()))
	}
	if p.direction == Sell {
		sum = sum.Neg()
	}
	return sum
}

func (p *Position) Volume() float64 {
	return p.VolumeDecimal().InexactFloat64()
}

// Profit is the realized profit booked on the position's deals.
func (p *Position) Profit() float64 {
	var sum float64
	for _, d := range p.Deals() {
		sum += d.Profit
	}
	return sum
}

// AveragePrice is the volume weighted price of the entry deals.
func (p *Position) AveragePrice() float64 {
	num, den := decimal.Zero, decimal.Zero
	for _, d := range p.Deals() {
		if d.Entry != EntryIn {
			continue
		}
		v := decimal.NewFromFloat(d.Volume)
		num = num.Add(decimal.NewFromFloat(d.Price).Mul(v))
		den = den.Add(v)
	}
	if den.IsZero() {
		return p.openPrice
	}
	return num.Div(den).InexactFloat64()
}

// Open reports whether the position still carries volume.
func (p *Position) Open() bool {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	return !closed && p.VolumeDecimal().IsPositive()
}

func (p *Position) AddOrder(o *Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.orders {
		if have == o {
			return
		}
	}
	p.orders = append(p.orders, o)
}

func (p *Position) SetStops(sl, tp float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLoss = sl
	p.takeProfit = tp
}

// MarkClosed terminates the position.
func (p *Position) MarkClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}
