// Package sim is the backtest venue: it prices instruments from the current
// historical bar, supplies stop and freeze levels, executes resting orders
// and stops against each bar and keeps the simulated account.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

var ErrNoBar = errors.New("no bar for symbol")

// Config tunes the simulated venue. Levels are in points; a negative level
// draws a random one in [0, MaxRandomLevel] for every bar.
type Config struct {
	Seed           uint64        `mapstructure:"seed" yaml:"seed"`
	SpreadFraction float64       `mapstructure:"spread_fraction" yaml:"spread_fraction"`
	StopLevel      int           `mapstructure:"stop_level" yaml:"stop_level"`
	FreezeLevel    int           `mapstructure:"freeze_level" yaml:"freeze_level"`
	MaxRandomLevel int           `mapstructure:"max_random_level" yaml:"max_random_level"`
	StopOutLevel   float64       `mapstructure:"stop_out_level" yaml:"stop_out_level"`
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

func DefaultConfig() Config {
	return Config{
		Seed:           1,
		SpreadFraction: 0.1,
		MaxRandomLevel: 20,
		StopOutLevel:   50,
		CacheSize:      256,
		CacheTTL:       time.Minute,
	}
}

type Option func(*Venue)

func WithLogger(l zerolog.Logger) Option {
	return func(v *Venue) { v.log = l }
}

type Venue struct {
	cfg   Config
	log   zerolog.Logger
	cache *QuoteCache

	mu    sync.Mutex
	rng   *rand.Rand
	bars  map[string]market.Rate
	metas map[string]market.InstrumentMeta
	acct  market.Account
	b     *broker.Broker
}

// NewVenue starts a venue holding acct. MarginFree and Margin start at the
// balance.
func NewVenue(cfg Config, acct market.Account, opts ...Option) *Venue {
	if cfg.SpreadFraction <= 0 || cfg.SpreadFraction > 0.1 {
		cfg.SpreadFraction = 0.1
	}
	if cfg.MaxRandomLevel < 0 {
		cfg.MaxRandomLevel = 0
	}
	acct.Equity = acct.Balance
	acct.MarginFree = acct.Balance
	acct.Margin = acct.Balance
	v := &Venue{
		cfg:   cfg,
		log:   zerolog.Nop(),
		cache: NewQuoteCache(cfg.CacheSize, cfg.CacheTTL),
		rng:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		bars:  make(map[string]market.Rate),
		metas: make(map[string]market.InstrumentMeta),
		acct:  acct,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Attach binds the venue to b: deals update the balance and the account
// snapshot is pushed to b after every revaluation.
func (v *Venue) Attach(b *broker.Broker) {
	v.mu.Lock()
	v.b = b
	acct := v.acct
	v.mu.Unlock()

	b.AddDealListener(v)
	b.SetAccount(acct)
}

func (v *Venue) AddInstrument(meta market.InstrumentMeta) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.metas[meta.Symbol] = meta
}

func (v *Venue) Cache() *QuoteCache { return v.cache }

// Advance makes r the current bar of its symbol.
func (v *Venue) Advance(r market.Rate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bars[r.Symbol] = r
	v.cache.Invalidate(r.Symbol)
}

// Bar returns the current bar of symbol.
func (v *Venue) Bar(symbol string) (market.Rate, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.bars[symbol]
	return r, ok
}

func (v *Venue) Bid(symbol string) (float64, error) {
	bid, _, err := v.quote(symbol)
	return bid, err
}

func (v *Venue) Ask(symbol string) (float64, error) {
	_, ask, err := v.quote(symbol)
	return ask, err
}

func (v *Venue) StopLevel(symbol string) int {
	return v.level(symbol, PurposeStop, v.cfg.StopLevel)
}

func (v *Venue) FreezeLevel(symbol string) int {
	return v.level(symbol, PurposeFreeze, v.cfg.FreezeLevel)
}

func (v *Venue) GetTick(_ context.Context, symbol string) (market.Tick, error) {
	return v.Tick(symbol)
}

// Tick is the synthesized quote of symbol at the close of its current bar.
func (v *Venue) Tick(symbol string) (market.Tick, error) {
	bid, ask, err := v.quote(symbol)
	if err != nil {
		return market.Tick{}, err
	}
	r, _ := v.Bar(symbol)
	return market.Tick{
		Symbol: symbol,
		Time:   r.Time.Add(r.TimeFrame.Duration()),
		Bid:    bid,
		Ask:    ask,
		Last:   r.Close,
		Volume: float64(r.TickVolume),
	}, nil
}

// quote prices the current bar: the bid is the close and the ask adds the
// bar's recorded spread, or a random spread of at most SpreadFraction of
// the body when none is recorded.
func (v *Venue) quote(symbol string) (float64, float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if bid, ok := v.cache.Get(symbol, PurposeBid); ok {
		if ask, ok := v.cache.Get(symbol, PurposeAsk); ok {
			return bid, ask, nil
		}
	}
	r, ok := v.bars[symbol]
	if !ok {
		return 0, 0, fmt.Errorf("%s: %w", symbol, ErrNoBar)
	}
	meta, ok := v.metas[symbol]
	if !ok {
		meta = market.InstrumentMeta{Symbol: symbol, Digits: 5, ContractSize: 100_000}
	}

	bid := r.Close
	var spread float64
	if r.Spread > 0 {
		spread = meta.PointsToPrice(float64(r.Spread))
	} else {
		spread = v.rng.Float64() * v.cfg.SpreadFraction * math.Abs(r.Close-r.Open)
	}
	// snapped down so the offset never exceeds the drawn spread
	ask := math.Max(bid, meta.Floor(decimal.NewFromFloat(bid).Add(decimal.NewFromFloat(spread)).InexactFloat64()))

	v.cache.Put(symbol, PurposeBid, bid)
	v.cache.Put(symbol, PurposeAsk, ask)
	return bid, ask, nil
}

func (v *Venue) level(symbol, purpose string, fixed int) int {
	if fixed >= 0 {
		return fixed
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if n, ok := v.cache.Get(symbol, purpose); ok {
		return int(n)
	}
	n := v.rng.IntN(v.cfg.MaxRandomLevel + 1)
	v.cache.Put(symbol, purpose, float64(n))
	return n
}

// Account returns the venue's last revalued account.
func (v *Venue) Account() market.Account {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.acct
}

// OnDeal books realized profit into the balance and revalues.
func (v *Venue) OnDeal(d trade.Deal) {
	v.mu.Lock()
	v.acct.Balance += d.Profit + d.Commission + d.Swap
	v.mu.Unlock()

	if _, err := v.Revalue(); err != nil {
		v.log.Warn().Err(err).Msg("revalue after deal")
	}
}

// Revalue marks open positions to the current quotes (longs at bid, shorts
// at ask, margin at mid) and pushes the account to the broker.
func (v *Venue) Revalue() (market.Account, error) {
	v.mu.Lock()
	b := v.b
	acct := v.acct
	v.mu.Unlock()
	if b == nil {
		return acct, errors.New("venue not attached")
	}

	var errs []error
	var used, profit float64
	for _, p := range b.Positions() {
		pl, margin, err := v.mark(p, acct)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		profit += pl
		used += margin
	}

	now := b.Time()
	v.mu.Lock()
	acct = v.acct
	acct.Time = now
	acct.Equity = acct.Balance + profit
	acct.Profit = profit
	acct.MarginUsed = used
	acct.MarginFree = acct.Equity - used
	acct.Margin = acct.MarginFree
	v.acct = acct
	v.mu.Unlock()
	b.SetAccount(acct)
	return acct, errors.Join(errs...)
}

// mark returns the open profit and the margin of p.
func (v *Venue) mark(p *trade.Position, acct market.Account) (float64, float64, error) {
	sym := p.Symbol()
	v.mu.Lock()
	meta, ok := v.metas[sym]
	v.mu.Unlock()
	if !ok {
		return 0, 0, fmt.Errorf("mark %s: %w", sym, broker.ErrUnknownSymbol)
	}
	bid, ask, err := v.quote(sym)
	if err != nil {
		return 0, 0, fmt.Errorf("mark %s: %w", sym, err)
	}
	conv, err := market.QuoteToAccountRate(meta, acct.Currency, v)
	if err != nil {
		return 0, 0, fmt.Errorf("mark %s: %w", sym, err)
	}

	markPx := bid
	if p.Direction() == trade.Sell {
		markPx = ask
	}
	vol := p.Volume()
	pl := UnrealizedPL(p.Direction(), vol, p.AveragePrice(), markPx, meta.ContractSize, conv)
	margin := PositionMargin(meta, vol, (bid+ask)/2, acct.Leverage, conv)
	return pl, margin, nil
}

// EnforceMargin closes the worst open position while the margin level is
// below the stop out level, and returns the stop out orders.
func (v *Venue) EnforceMargin(ctx context.Context) ([]*trade.Order, error) {
	if v.cfg.StopOutLevel <= 0 || v.b == nil {
		return nil, nil
	}
	var out []*trade.Order
	for range len(v.b.Positions()) {
		acct := v.Account()
		if acct.MarginUsed <= 0 || acct.MarginLevel()*100 >= v.cfg.StopOutLevel {
			return out, nil
		}

		var worst *trade.Position
		var worstPL float64
		for _, p := range v.b.Positions() {
			pl, _, err := v.mark(p, acct)
			if err != nil {
				continue
			}
			if worst == nil || pl < worstPL {
				worst, worstPL = p, pl
			}
		}
		if worst == nil {
			return out, nil
		}

		bid, ask, err := v.quote(worst.Symbol())
		if err != nil {
			return out, err
		}
		px := bid
		if worst.Direction() == trade.Sell {
			px = ask
		}
		o, err := v.b.StopOut(ctx, worst, px)
		if err != nil {
			return out, err
		}
		v.log.Warn().
			Int64("position", worst.ID()).
			Str("symbol", worst.Symbol()).
			Float64("margin_level", acct.MarginLevel()*100).
			Msg("stop out")
		out = append(out, o)
	}
	return out, nil
}
