package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoTick = errors.New("tick not found")

type TickSource interface {
	GetTick(ctx context.Context, symbol string) (Tick, error)
}

type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
	Last   float64
	Volume float64
}

func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// TickStore keeps the latest tick per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.ticks[t.Symbol] = t
}

func (ts *TickStore) Get(symbol string) (Tick, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}

func (ts *TickStore) GetTick(_ context.Context, symbol string) (Tick, error) {
	return ts.Get(symbol)
}
