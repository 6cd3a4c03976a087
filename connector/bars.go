package connector

import (
	"maps"
	"slices"
	"sync"

	"github.com/rustyeddy/tradehost/market"
)

// Bars builds bid bars of one timeframe from ticks for sources that only
// stream quotes. A bar closes when the first tick of a later bar arrives;
// it is passed on before that tick.
type Bars struct {
	tf   market.TimeFrame
	next Feed

	mu   sync.Mutex
	open map[string]*market.Rate
}

var _ Feed = (*Bars)(nil)

func NewBars(tf market.TimeFrame, next Feed) *Bars {
	return &Bars{tf: tf, next: next, open: make(map[string]*market.Rate)}
}

func (b *Bars) OnTick(t market.Tick) {
	if closed, ok := b.add(t); ok {
		b.next.OnRate(closed)
	}
	b.next.OnTick(t)
}

// Flush passes on the open bar of every symbol and forgets them.
func (b *Bars) Flush() {
	b.mu.Lock()
	open := b.open
	b.open = make(map[string]*market.Rate)
	b.mu.Unlock()
	for _, sym := range slices.Sorted(maps.Keys(open)) {
		b.next.OnRate(*open[sym])
	}
}

func (b *Bars) OnRate(r market.Rate)             { b.next.OnRate(r) }
func (b *Bars) OnAccountUpdate(a market.Account) { b.next.OnAccountUpdate(a) }

// add folds t into the open bar of its symbol and returns the bar it
// closed, if any. Ticks older than the open bar are ignored.
func (b *Bars) add(t market.Tick) (market.Rate, bool) {
	if t.Bid <= 0 || t.Time.IsZero() {
		return market.Rate{}, false
	}
	start := b.tf.Align(t.Time)

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.open[t.Symbol]
	switch {
	case cur == nil:
	case start.Equal(cur.Time):
		cur.High = max(cur.High, t.Bid)
		cur.Low = min(cur.Low, t.Bid)
		cur.Close = t.Bid
		cur.TickVolume++
		return market.Rate{}, false
	case start.Before(cur.Time):
		return market.Rate{}, false
	}

	b.open[t.Symbol] = &market.Rate{
		Symbol:     t.Symbol,
		Time:       start,
		Open:       t.Bid,
		High:       t.Bid,
		Low:        t.Bid,
		Close:      t.Bid,
		TickVolume: 1,
		TimeFrame:  b.tf,
	}
	if cur == nil {
		return market.Rate{}, false
	}
	return *cur, true
}
