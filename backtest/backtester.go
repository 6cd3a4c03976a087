// Package backtest runs strategies over historical bars against the
// simulated venue.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/sim"
	"github.com/rustyeddy/tradehost/stats"
	"github.com/rustyeddy/tradehost/timeseries"
	"github.com/rustyeddy/tradehost/trade"
)

// Config describes one backtest. Warmup bars before Start are loaded into
// the instrument history on registration without being dispatched; a
// negative Warmup loads none. ChunkBars bounds each loader request and
// Preload the number of series loaded at once.
type Config struct {
	Start      time.Time      `mapstructure:"start" yaml:"start"`
	End        time.Time      `mapstructure:"end" yaml:"end"`
	Account    market.Account `mapstructure:"-" yaml:"-"`
	Venue      sim.Config     `mapstructure:"venue" yaml:"venue"`
	Warmup     int            `mapstructure:"warmup" yaml:"warmup"`
	ChunkBars  int            `mapstructure:"chunk_bars" yaml:"chunk_bars"`
	Preload    int            `mapstructure:"preload" yaml:"preload"`
	CloseAtEnd bool           `mapstructure:"close_at_end" yaml:"close_at_end"`
}

const (
	DefaultWarmup    = 30
	DefaultChunkBars = 1000
	DefaultPreload   = 4
)

func (c *Config) setDefaults() {
	if c.Warmup == 0 {
		c.Warmup = DefaultWarmup
	}
	if c.ChunkBars <= 0 {
		c.ChunkBars = DefaultChunkBars
	}
	if c.Preload <= 0 {
		c.Preload = DefaultPreload
	}
	if c.Account.Leverage <= 0 {
		c.Account.Leverage = 1
	}
}

type Option func(*Backtester)

func WithLogger(l zerolog.Logger) Option {
	return func(bt *Backtester) { bt.log = l }
}

// WithDealListener receives every deal booked during the run.
func WithDealListener(l broker.DealListener) Option {
	return func(bt *Backtester) { bt.dealListeners = append(bt.dealListeners, l) }
}

// WithEquityListener receives the account after every simulated step.
func WithEquityListener(fn func(market.Account)) Option {
	return func(bt *Backtester) { bt.equityListeners = append(bt.equityListeners, fn) }
}

// Result is what a run produced.
type Result struct {
	Start   time.Time
	End     time.Time
	Steps   int
	Bars    int
	Account market.Account
	Deals   []trade.Deal
	Equity  []stats.Point
	Stats   stats.Report
	Dropped map[string]int64
}

type feed struct {
	key    seriesKey
	bars   []market.Rate
	pos    int
	loaded time.Time
	last   time.Time
	done   bool
}

func (f *feed) peek() (market.Rate, bool) {
	if f.pos < len(f.bars) {
		return f.bars[f.pos], true
	}
	return market.Rate{}, false
}

// Backtester owns the simulated venue and its broker.
type Backtester struct {
	cfg    Config
	log    zerolog.Logger
	loader Loader
	venue  *sim.Venue
	broker *broker.Broker
	sf     singleflight.Group

	dealListeners   []broker.DealListener
	equityListeners []func(market.Account)

	feeds  map[seriesKey]*feed
	equity []stats.Point
}

// history tracks how far back a series has been loaded.
type history struct {
	mu    sync.Mutex
	floor time.Time
	done  bool
}

func New(loader Loader, cfg Config, opts ...Option) (*Backtester, error) {
	if loader == nil {
		return nil, errors.New("backtest: loader is required")
	}
	if cfg.Start.IsZero() || !cfg.End.After(cfg.Start) {
		return nil, fmt.Errorf("backtest: bad period %s to %s", cfg.Start, cfg.End)
	}
	if cfg.Account.Currency == "" {
		return nil, errors.New("backtest: account currency is required")
	}
	cfg.setDefaults()

	bt := &Backtester{
		cfg:    cfg,
		log:    zerolog.Nop(),
		loader: loader,
		feeds:  make(map[seriesKey]*feed),
	}
	for _, o := range opts {
		o(bt)
	}

	bt.venue = sim.NewVenue(cfg.Venue, cfg.Account, sim.WithLogger(bt.log))
	bopts := []broker.Option{
		broker.WithLogger(bt.log),
		broker.WithAccount(cfg.Account),
		broker.WithRegisterHook(bt.backfill),
	}
	for _, l := range bt.dealListeners {
		bopts = append(bopts, broker.WithDealListener(l))
	}
	bt.broker = broker.New(bt.venue, bopts...)
	bt.venue.Attach(bt.broker)
	return bt, nil
}

func (bt *Backtester) Broker() *broker.Broker { return bt.broker }
func (bt *Backtester) Venue() *sim.Venue      { return bt.venue }

// AddInstrument makes meta tradable on the broker and priced by the venue.
func (bt *Backtester) AddInstrument(meta market.InstrumentMeta) error {
	if _, err := bt.broker.AddInstrument(meta); err != nil {
		return err
	}
	bt.venue.AddInstrument(meta)
	return nil
}

// Register binds s to symbol on tf bars.
func (bt *Backtester) Register(s broker.Strategy, symbol string, tf market.TimeFrame) (*broker.Registration, error) {
	return bt.broker.Register(s, symbol, broker.WithTimeFrame(tf))
}

// backfill is the broker register hook: it loads the warmup bars ending at
// Start into the instrument history and makes the last one the venue's
// current bar, then adds the series to the run.
func (bt *Backtester) backfill(symbol string, tf market.TimeFrame) error {
	in, ok := bt.broker.Instrument(symbol)
	if !ok {
		return broker.ErrUnknownSymbol
	}
	key := seriesKey{symbol, tf}

	var warm []market.Rate
	if bt.cfg.Warmup > 0 {
		// reach further back when weekends or holidays leave holes
		span := time.Duration(bt.cfg.Warmup) * tf.Duration()
		for attempt := 0; attempt < 4 && len(warm) < bt.cfg.Warmup; attempt++ {
			span *= 2
			bars, err := bt.fetch(context.Background(), key, bt.cfg.Start.Add(-span), bt.cfg.Start)
			if err != nil {
				return fmt.Errorf("warmup %s: %w", key, err)
			}
			warm = bars
		}
		if len(warm) > bt.cfg.Warmup {
			warm = warm[len(warm)-bt.cfg.Warmup:]
		}
	}
	for _, r := range warm {
		if _, err := in.OnRate(r); err != nil {
			bt.log.Warn().Err(err).Str("symbol", symbol).Msg("warmup bar dropped")
		}
	}
	if n := len(warm); n > 0 {
		bt.venue.Advance(warm[n-1])
	}
	floor := bt.cfg.Start
	if len(warm) > 0 {
		floor = warm[0].Time
	}
	in.Rates(tf).SetBackfill(bt.older(key, &history{floor: floor}))

	if _, ok := bt.feeds[key]; !ok {
		bt.feeds[key] = &feed{key: key, loaded: bt.cfg.Start}
	}
	bt.log.Debug().Str("series", key.String()).Int("warmup", len(warm)).Msg("history loaded")
	return nil
}

// fetch loads a window through the loader, sharing the call with any
// concurrent request for the same window. Missing data is an empty window.
func (bt *Backtester) fetch(ctx context.Context, key seriesKey, from, to time.Time) ([]market.Rate, error) {
	id := fmt.Sprintf("%s@%d-%d", key, from.Unix(), to.Unix())
	v, err, _ := bt.sf.Do(id, func() (any, error) {
		return bt.loader.FetchBars(ctx, key.symbol, key.tf, from, to)
	})
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bars, _ := v.([]market.Rate)
	out := make([]market.Rate, 0, len(bars))
	for _, r := range bars {
		if r.Symbol == "" {
			r.Symbol = key.symbol
		}
		if r.TimeFrame == 0 {
			r.TimeFrame = key.tf
		}
		if r.Symbol != key.symbol || r.TimeFrame != key.tf || r.Time.Before(from) || !r.Time.Before(to) {
			continue
		}
		if err := r.Validate(); err != nil {
			bt.log.Warn().Err(err).Msg("bad bar skipped")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// older serves reads reaching past the loaded history of key. Only bars
// before the oldest loaded one are fetched, so the series never sees a bar
// ahead of the simulated clock. A loader with nothing older ends the search.
func (bt *Backtester) older(key seriesKey, h *history) timeseries.Backfill[market.Rate] {
	return func(m timeseries.Miss) []market.Rate {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.done {
			return nil
		}
		to := h.floor
		from := m.Until
		span := time.Duration(max(m.Count, 1)) * key.tf.Duration()
		if from.IsZero() || !from.Before(to) {
			from = to.Add(-span)
		}
		for attempt := 0; attempt < 4; attempt++ {
			bars, err := bt.fetch(context.Background(), key, from, to)
			if err != nil {
				bt.log.Warn().Err(err).Str("series", key.String()).Msg("history")
				return nil
			}
			h.floor = from
			if len(bars) > 0 {
				for i := range bars {
					if bars[i].Meta == nil {
						bars[i].Meta = market.NewMetadata()
					}
				}
				bt.log.Debug().Str("series", key.String()).Int("bars", len(bars)).Time("from", from).Msg("history extended")
				return bars
			}
			// weekends and holidays leave empty windows
			to, span = from, span*2
			from = to.Add(-span)
		}
		h.done = true
		return nil
	}
}

// extend refills f from the loader once its buffered bars are used up.
func (bt *Backtester) extend(ctx context.Context, f *feed) error {
	window := time.Duration(bt.cfg.ChunkBars) * f.key.tf.Duration()
	for !f.done && f.pos >= len(f.bars) {
		from := f.loaded
		if !from.Before(bt.cfg.End) {
			f.done = true
			break
		}
		to := from.Add(window)
		if to.After(bt.cfg.End) {
			to = bt.cfg.End
		}
		bars, err := bt.fetch(ctx, f.key, from, to)
		if err != nil {
			return fmt.Errorf("load %s: %w", f.key, err)
		}
		f.bars, f.pos = f.bars[:0], 0
		for _, r := range bars {
			if !r.Time.After(f.last) {
				continue
			}
			f.bars = append(f.bars, r)
			f.last = r.Time
		}
		f.loaded = to
	}
	return nil
}

func (bt *Backtester) sortedFeeds() []*feed {
	out := make([]*feed, 0, len(bt.feeds))
	for _, f := range bt.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.String() < out[j].key.String() })
	return out
}

// Run steps through simulated time from Start to End. Each step takes the
// earliest pending bar time across all registered series and, for every
// series with a bar at that time: makes it the venue's current bar, runs
// resting orders and stops against it, delivers the closing tick and the
// bar, and waits for the strategy. The account is then revalued, margin is
// enforced and an equity point is recorded.
func (bt *Backtester) Run(ctx context.Context) (Result, error) {
	feeds := bt.sortedFeeds()
	if len(feeds) == 0 {
		return Result{}, errors.New("backtest: no strategy registered")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bt.cfg.Preload)
	for _, f := range feeds {
		g.Go(func() error { return bt.extend(gctx, f) })
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	bt.log.Info().
		Time("start", bt.cfg.Start).
		Time("end", bt.cfg.End).
		Int("series", len(feeds)).
		Msg("backtest started")

	res := Result{Start: bt.cfg.Start}
	bt.record()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var next time.Time
		for _, f := range feeds {
			if err := bt.extend(ctx, f); err != nil {
				return res, err
			}
			if r, ok := f.peek(); ok && (next.IsZero() || r.Time.Before(next)) {
				next = r.Time
			}
		}
		if next.IsZero() || !next.Before(bt.cfg.End) {
			break
		}

		for _, f := range feeds {
			r, ok := f.peek()
			if !ok || !r.Time.Equal(next) {
				continue
			}
			f.pos++
			if err := bt.step(ctx, r); err != nil {
				return res, err
			}
			res.Bars++
			res.End = r.Time.Add(r.TimeFrame.Duration())
		}
		res.Steps++

		if _, err := bt.venue.Revalue(); err != nil {
			bt.log.Warn().Err(err).Msg("revalue")
		}
		if _, err := bt.venue.EnforceMargin(ctx); err != nil {
			return res, fmt.Errorf("stop out: %w", err)
		}
		bt.record()
	}

	if bt.cfg.CloseAtEnd {
		if err := bt.closeAll(ctx); err != nil {
			return res, err
		}
		bt.record()
	}

	res.Dropped = make(map[string]int64)
	for _, reg := range bt.broker.Registrations() {
		res.Dropped[reg.Symbol()] = reg.Dropped()
	}
	bt.broker.ReleaseAll()

	res.Account = bt.venue.Account()
	res.Deals = bt.broker.Deals()
	res.Equity = bt.equity
	res.Stats = stats.Compute(bt.cfg.Account.Balance, res.Deals, res.Equity)

	bt.log.Info().
		Int("bars", res.Bars).
		Int("deals", len(res.Deals)).
		Float64("balance", res.Account.Balance).
		Float64("equity", res.Account.Equity).
		Msg("backtest finished")
	return res, nil
}

func (bt *Backtester) step(ctx context.Context, r market.Rate) error {
	bt.venue.Advance(r)
	if err := bt.venue.Process(ctx, r); err != nil {
		return fmt.Errorf("process %s %s: %w", r.Symbol, r.Time.Format(time.RFC3339), err)
	}
	tick, err := bt.venue.Tick(r.Symbol)
	if err != nil {
		return err
	}
	bt.broker.OnTick(tick)
	bt.broker.OnRate(r)
	bt.broker.Wait()
	return nil
}

// closeAll exits every open position at the venue's current quote.
func (bt *Backtester) closeAll(ctx context.Context) error {
	for _, p := range bt.broker.Positions() {
		tk, err := bt.venue.Tick(p.Symbol())
		if err != nil {
			return err
		}
		px := tk.Bid
		if p.Direction() == trade.Sell {
			px = tk.Ask
		}
		if _, err := bt.broker.StopOut(ctx, p, px); err != nil {
			return fmt.Errorf("close at end: %w", err)
		}
	}
	_, err := bt.venue.Revalue()
	return err
}

func (bt *Backtester) record() {
	acct := bt.venue.Account()
	if acct.Time.IsZero() {
		acct.Time = bt.cfg.Start
	}
	bt.equity = append(bt.equity, stats.Point{
		Time:        acct.Time,
		Balance:     acct.Balance,
		Equity:      acct.Equity,
		MarginLevel: acct.MarginLevel() * 100,
	})
	for _, fn := range bt.equityListeners {
		fn(acct)
	}
}
