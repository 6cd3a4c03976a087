// market/instruments.go
package market

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/tradehost/timeseries"
	"github.com/shopspring/decimal"
)

var (
	ErrSymbolMismatch = errors.New("symbol mismatch")
	ErrUnbound        = errors.New("instrument not bound to a broker")
)

// Quoter answers live price questions for a symbol. Levels are in points.
type Quoter interface {
	Bid(symbol string) (float64, error)
	Ask(symbol string) (float64, error)
	StopLevel(symbol string) int
	FreezeLevel(symbol string) int
}

type TradeMode int

const (
	TradeFull TradeMode = iota
	TradeLongOnly
	TradeShortOnly
	TradeCloseOnly
	TradeDisabled
)

func (m TradeMode) String() string {
	switch m {
	case TradeFull:
		return "FULL"
	case TradeLongOnly:
		return "LONG_ONLY"
	case TradeShortOnly:
		return "SHORT_ONLY"
	case TradeCloseOnly:
		return "CLOSE_ONLY"
	case TradeDisabled:
		return "DISABLED"
	}
	return fmt.Sprintf("TradeMode(%d)", int(m))
}

// InstrumentMeta is the static description of a tradable symbol.
// VolumeMin/VolumeMax/VolumeStep of 0 mean "no limit".
type InstrumentMeta struct {
	Symbol        string    `yaml:"symbol" mapstructure:"symbol"`
	BaseCurrency  string    `yaml:"base_currency" mapstructure:"base_currency"`
	QuoteCurrency string    `yaml:"quote_currency" mapstructure:"quote_currency"`
	Digits        int       `yaml:"digits" mapstructure:"digits"`
	ContractSize  float64   `yaml:"contract_size" mapstructure:"contract_size"`
	TickValue     float64   `yaml:"tick_value" mapstructure:"tick_value"`
	MarginRate    float64   `yaml:"margin_rate" mapstructure:"margin_rate"`
	VolumeMin     float64   `yaml:"volume_min" mapstructure:"volume_min"`
	VolumeMax     float64   `yaml:"volume_max" mapstructure:"volume_max"`
	VolumeStep    float64   `yaml:"volume_step" mapstructure:"volume_step"`
	Mode          TradeMode `yaml:"mode" mapstructure:"mode"`
}

// Instruments is the built-in registry, keyed by symbol.
var Instruments = map[string]InstrumentMeta{
	"EURUSD": {Symbol: "EURUSD", BaseCurrency: "EUR", QuoteCurrency: "USD", Digits: 5, ContractSize: 100_000, TickValue: 1, MarginRate: 1, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	"GBPUSD": {Symbol: "GBPUSD", BaseCurrency: "GBP", QuoteCurrency: "USD", Digits: 5, ContractSize: 100_000, TickValue: 1, MarginRate: 1, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	"AUDUSD": {Symbol: "AUDUSD", BaseCurrency: "AUD", QuoteCurrency: "USD", Digits: 5, ContractSize: 100_000, TickValue: 1, MarginRate: 1, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	"USDJPY": {Symbol: "USDJPY", BaseCurrency: "USD", QuoteCurrency: "JPY", Digits: 3, ContractSize: 100_000, TickValue: 1, MarginRate: 1, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	"USDCHF": {Symbol: "USDCHF", BaseCurrency: "USD", QuoteCurrency: "CHF", Digits: 5, ContractSize: 100_000, TickValue: 1, MarginRate: 1, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
	"EURGBP": {Symbol: "EURGBP", BaseCurrency: "EUR", QuoteCurrency: "GBP", Digits: 5, ContractSize: 100_000, TickValue: 1, MarginRate: 1, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
}

// Defaults returns a copy of the built-in registry.
func Defaults() map[string]InstrumentMeta {
	out := make(map[string]InstrumentMeta, len(Instruments))
	for k, v := range Instruments {
		out[k] = v
	}
	return out
}

// FindPair returns the registered symbol quoting base against quote.
func FindPair(base, quote string) (InstrumentMeta, bool) {
	for _, m := range Instruments {
		if m.BaseCurrency == base && m.QuoteCurrency == quote {
			return m, true
		}
	}
	return InstrumentMeta{}, false
}

func (m InstrumentMeta) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("instrument: symbol is required")
	}
	if m.Digits < 0 {
		return fmt.Errorf("instrument %s: digits must be >= 0", m.Symbol)
	}
	if m.ContractSize <= 0 {
		return fmt.Errorf("instrument %s: contract size must be positive", m.Symbol)
	}
	return nil
}

func (m InstrumentMeta) tick() decimal.Decimal {
	return decimal.New(1, -int32(m.Digits))
}

func (m InstrumentMeta) pip() decimal.Decimal {
	if m.Digits == 3 || m.Digits == 5 {
		return m.tick().Mul(decimal.NewFromInt(10))
	}
	return m.tick()
}

// TickSize is one point: 10^-digits.
func (m InstrumentMeta) TickSize() float64 { return math.Pow10(-m.Digits) }

// Pip is ten points for 3 and 5 digit quotes, one point otherwise.
func (m InstrumentMeta) Pip() float64 { return m.pip().InexactFloat64() }

func (m InstrumentMeta) PipsToPrice(pips float64) float64 {
	return decimal.NewFromFloat(pips).Mul(m.pip()).InexactFloat64()
}

func (m InstrumentMeta) PipsToPoints(pips float64) float64 {
	return decimal.NewFromFloat(pips).Mul(m.pip()).Div(m.tick()).InexactFloat64()
}

func (m InstrumentMeta) PointsToPrice(points float64) float64 {
	return decimal.NewFromFloat(points).Mul(m.tick()).InexactFloat64()
}

func (m InstrumentMeta) PointsToPips(points float64) float64 {
	return decimal.NewFromFloat(points).Mul(m.tick()).Div(m.pip()).InexactFloat64()
}

// PointDistance is n points expressed as an exact price distance.
func (m InstrumentMeta) PointDistance(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n)).Mul(m.tick())
}

// Ceil snaps price up to the next tick boundary.
func (m InstrumentMeta) Ceil(price float64) float64 {
	t := m.tick()
	return decimal.NewFromFloat(price).Div(t).Ceil().Mul(t).InexactFloat64()
}

// Floor snaps price down to the previous tick boundary.
func (m InstrumentMeta) Floor(price float64) float64 {
	t := m.tick()
	return decimal.NewFromFloat(price).Div(t).Floor().Mul(t).InexactFloat64()
}

// Instrument is the live record of a symbol: its static meta, the last
// quote and the series fed by ticks and closed bars.
type Instrument struct {
	InstrumentMeta

	mu    sync.RWMutex
	owner Quoter
	quote Tick
	ticks *timeseries.Series[Tick]
	rates map[TimeFrame]*timeseries.Series[Rate]
}

func NewInstrument(meta InstrumentMeta) *Instrument {
	return &Instrument{
		InstrumentMeta: meta,
		ticks:          timeseries.New(func(t Tick) time.Time { return t.Time }),
		rates:          make(map[TimeFrame]*timeseries.Series[Rate]),
	}
}

// Bind attaches the broker that prices this instrument.
func (in *Instrument) Bind(q Quoter) {
	in.mu.Lock()
	in.owner = q
	in.mu.Unlock()
}

func (in *Instrument) quoter() Quoter {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.owner
}

// Bid asks the owning broker for the current bid.
func (in *Instrument) Bid() (float64, error) {
	q := in.quoter()
	if q == nil {
		return 0, ErrUnbound
	}
	return q.Bid(in.Symbol)
}

// Ask asks the owning broker for the current ask.
func (in *Instrument) Ask() (float64, error) {
	q := in.quoter()
	if q == nil {
		return 0, ErrUnbound
	}
	return q.Ask(in.Symbol)
}

// StopLevel is the minimum stop distance in points, zero when unbound.
func (in *Instrument) StopLevel() int {
	if q := in.quoter(); q != nil {
		return q.StopLevel(in.Symbol)
	}
	return 0
}

// FreezeLevel is the freeze distance in points, zero when unbound.
func (in *Instrument) FreezeLevel() int {
	if q := in.quoter(); q != nil {
		return q.FreezeLevel(in.Symbol)
	}
	return 0
}

// Ticks returns the tick history.
func (in *Instrument) Ticks() *timeseries.Series[Tick] { return in.ticks }

// Rates returns the bar history for tf, creating it on first use.
func (in *Instrument) Rates(tf TimeFrame) *timeseries.Series[Rate] {
	in.mu.RLock()
	s, ok := in.rates[tf]
	in.mu.RUnlock()
	if ok {
		return s
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if s, ok = in.rates[tf]; !ok {
		s = timeseries.New(func(r Rate) time.Time { return r.Time })
		in.rates[tf] = s
	}
	return s
}

// Quote returns the last tick applied to the instrument.
func (in *Instrument) Quote() Tick {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.quote
}

// OnTick records t and refreshes the live quote when t is not older than it.
func (in *Instrument) OnTick(t Tick) error {
	if t.Symbol != in.Symbol {
		return fmt.Errorf("%w: tick for %q on %q", ErrSymbolMismatch, t.Symbol, in.Symbol)
	}
	in.ticks.Insert(t)

	in.mu.Lock()
	if !t.Time.Before(in.quote.Time) {
		in.quote = t
	}
	in.mu.Unlock()
	return nil
}

// OnRate appends a closed bar. It reports whether the bar was new.
func (in *Instrument) OnRate(r Rate) (bool, error) {
	if r.Symbol != in.Symbol {
		return false, fmt.Errorf("%w: rate for %q on %q", ErrSymbolMismatch, r.Symbol, in.Symbol)
	}
	if err := r.Validate(); err != nil {
		return false, err
	}
	if r.Meta == nil {
		r.Meta = NewMetadata()
	}
	return in.Rates(r.TimeFrame).Insert(r), nil
}
