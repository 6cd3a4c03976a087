package market

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var ErrInvalidRate = errors.New("invalid rate")

// Rate is one closed OHLC bar.
type Rate struct {
	Symbol     string
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64
	RealVolume int64
	Spread     int
	TimeFrame  TimeFrame

	// Meta carries consumer annotations. It is shared by every copy of
	// the bar.
	Meta *Metadata
}

func (r Rate) Validate() error {
	if r.Time.IsZero() {
		return fmt.Errorf("%w: %s has no time", ErrInvalidRate, r.Symbol)
	}
	if r.Low > r.High ||
		r.Open < r.Low || r.Open > r.High ||
		r.Close < r.Low || r.Close > r.High {
		return fmt.Errorf("%w: %s %s o=%g h=%g l=%g c=%g",
			ErrInvalidRate, r.Symbol, r.Time.Format(time.RFC3339), r.Open, r.High, r.Low, r.Close)
	}
	return nil
}

// Body is the absolute open/close distance.
func (r Rate) Body() float64 { return math.Abs(r.Close - r.Open) }

// Contains reports whether price was traded inside the bar.
func (r Rate) Contains(price float64) bool {
	return price >= r.Low && price <= r.High
}

type Metadata struct {
	mu sync.RWMutex
	m  map[string]any
}

func NewMetadata() *Metadata {
	return &Metadata{m: make(map[string]any)}
}

func (md *Metadata) Set(key string, v any) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.m[key] = v
}

func (md *Metadata) Get(key string) (any, bool) {
	if md == nil {
		return nil, false
	}
	md.mu.RLock()
	defer md.mu.RUnlock()
	v, ok := md.m[key]
	return v, ok
}
