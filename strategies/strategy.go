// Package strategies holds the built-in trading strategies and a registry
// that builds them by name.
package strategies

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/risk"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Params are shared by every built-in strategy; each reads the fields it
// needs.
type Params struct {
	Volume    float64     `mapstructure:"volume" yaml:"volume" json:"volume"`
	Fast      int         `mapstructure:"fast" yaml:"fast" json:"fast"`
	Slow      int         `mapstructure:"slow" yaml:"slow" json:"slow"`
	RiskPct   float64     `mapstructure:"risk_pct" yaml:"risk_pct" json:"risk_pct"`
	StopPips  float64     `mapstructure:"stop_pips" yaml:"stop_pips" json:"stop_pips"`
	RR        float64     `mapstructure:"rr" yaml:"rr" json:"rr"`
	Deviation int         `mapstructure:"deviation" yaml:"deviation" json:"deviation"`
	Policy    risk.Policy `mapstructure:"policy" yaml:"policy" json:"policy"`

	// Trend filter; ADXPeriod 0 disables it.
	ADXPeriod    int     `mapstructure:"adx_period" yaml:"adx_period" json:"adx_period"`
	ADXThreshold float64 `mapstructure:"adx_threshold" yaml:"adx_threshold" json:"adx_threshold"`
	RequireDI    bool    `mapstructure:"require_di" yaml:"require_di" json:"require_di"`
}

func DefaultParams() Params {
	return Params{
		Volume:       0.1,
		Fast:         10,
		Slow:         30,
		RiskPct:      0.005,
		StopPips:     20,
		RR:           2,
		Deviation:    10,
		ADXThreshold: 20,
	}
}

// DecodeParams overlays m on the defaults. Keys use the mapstructure names
// and string values are converted.
func DecodeParams(m map[string]any) (Params, error) {
	p := DefaultParams()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(m); err != nil {
		return p, fmt.Errorf("strategy params: %w", err)
	}
	return p, nil
}

// Factory builds a strategy bound to symbol.
type Factory func(symbol string, p Params, log zerolog.Logger) (broker.Strategy, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
	aliases  = map[string]string{"none": "noop", "emacross": "ema-cross", "emacrossadx": "ema-cross-adx"}
)

func init() {
	Register("noop", func(string, Params, zerolog.Logger) (broker.Strategy, error) { return Noop{}, nil })
	Register("open-once", NewOpenOnce)
	Register("ema-cross", NewEMACross)
	Register("ema-cross-adx", NewEMACrossADX)
}

// Register adds or replaces the factory for name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(name)] = f
}

// New builds the strategy registered as name for symbol.
func New(name, symbol string, p Params, log zerolog.Logger) (broker.Strategy, error) {
	mu.RLock()
	f, ok := registry[normalize(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (supported: %s)", ErrUnknownStrategy, name, strings.Join(Names(), ", "))
	}
	return f(symbol, p, log.With().Str("strategy", normalize(name)).Str("symbol", symbol).Logger())
}

// Names lists the registered strategies, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		return a
	}
	return n
}

// Noop does nothing.
type Noop struct{}

func (Noop) Initialize(broker.Trader, market.Account) error { return nil }
func (Noop) OnTick(market.Tick)                             {}
func (Noop) OnRate(market.Rate)                             {}
func (Noop) OnRelease()                                     {}

// quotes adapts a Trader to market.TickSource for currency conversion.
type quotes struct{ t broker.Trader }

func (q quotes) GetTick(_ context.Context, symbol string) (market.Tick, error) {
	bid, err := q.t.Bid(symbol)
	if err != nil {
		return market.Tick{}, err
	}
	ask, err := q.t.Ask(symbol)
	if err != nil {
		return market.Tick{}, err
	}
	return market.Tick{Symbol: symbol, Bid: bid, Ask: ask}, nil
}

func round(price float64, digits int) float64 {
	return decimal.NewFromFloat(price).Round(int32(digits)).InexactFloat64()
}
