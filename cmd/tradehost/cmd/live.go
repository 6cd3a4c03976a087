package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/connector"
	"github.com/rustyeddy/tradehost/journal"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/oanda"
	"github.com/rustyeddy/tradehost/pkg/id"
	"github.com/rustyeddy/tradehost/strategies"
	"github.com/rustyeddy/tradehost/trade"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run strategies against a live quote source",
	Long: `Live binds one strategy instance per symbol to a broker fed by a live
source until interrupted.

Sources:
  - ws:    a terminal bridge over websocket; orders execute on the terminal
  - oanda: the OANDA pricing stream; orders fill locally (paper trading)

Examples:
  tradehost live -c tradehost.yaml --url ws://localhost:8765/bridge
  TRADEHOST_OANDA_TOKEN=... tradehost live --source oanda --symbols EURUSD --tf M5`,
	Args: cobra.NoArgs,
	RunE: runLive,
}

func init() {
	rootCmd.AddCommand(liveCmd)

	f := liveCmd.Flags()
	f.String("url", "", "bridge websocket URL")
	f.String("source", "", "quote source: ws or oanda")
	f.StringP("strategy", "s", "", "strategy name")
	f.StringSlice("symbols", nil, "symbols to trade")
	f.String("tf", "", "bar timeframe delivered to strategies")

	bind(liveCmd, "live.url", "url")
	bind(liveCmd, "live.source", "source")
	bind(liveCmd, "strategy.name", "strategy")
	bind(liveCmd, "backtest.symbols", "symbols")
	bind(liveCmd, "backtest.timeframe", "tf")
}

func runLive(cmd *cobra.Command, _ []string) error {
	params, err := cfg.StrategyParams()
	if err != nil {
		return err
	}
	jr, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jr.Close()

	ctx, cancel := signalContext()
	defer cancel()

	runID := id.New()
	llog := log.With().Str("run", runID).Str("source", cfg.Live.Source).Logger()
	tf := cfg.Backtest.TimeFrame

	vopts := []connector.VenueOption{
		connector.WithVenueLogger(llog),
		connector.WithCommandTimeout(cfg.Live.CommandTimeout),
		connector.WithLevels("", cfg.Live.Levels),
	}
	for sym, lv := range cfg.Live.SymbolLevels {
		vopts = append(vopts, connector.WithLevels(sym, lv))
	}

	var (
		b     *broker.Broker
		venue *connector.Venue
		run   func(context.Context, connector.Feed) error
		feed  func() connector.Feed
	)
	acct := cfg.AccountSnapshot()
	acct.Equity, acct.Margin, acct.MarginFree = acct.Balance, acct.Balance, acct.Balance

	bopts := []broker.Option{
		broker.WithLogger(llog),
		broker.WithAccount(acct),
		broker.WithDealListener(broker.DealListenerFunc(func(d trade.Deal) {
			if err := jr.RecordDeal(journal.FromDeal(runID, d)); err != nil {
				llog.Error().Err(err).Int64("deal", d.ID).Msg("journal deal")
			}
		})),
	}

	switch cfg.Live.Source {
	case "oanda":
		client, err := oandaClient()
		if err != nil {
			return err
		}
		venue = connector.NewVenue(nil, vopts...)
		warmup := cfg.Backtest.Warmup
		bopts = append(bopts, broker.WithRegisterHook(func(symbol string, tf market.TimeFrame) error {
			return backfill(ctx, client, b, symbol, tf, warmup, params)
		}))
		stream := client.PriceStream(cfg.Backtest.Symbols...)
		run = func(ctx context.Context, f connector.Feed) error {
			return runStream(ctx, stream, f, cfg.Live.ReconnectMin, llog)
		}
		feed = func() connector.Feed { return venue.Tap(connector.NewBars(tf, b)) }
	case "ws":
		if cfg.Live.URL == "" {
			return errors.New("live: --url is required for the ws source")
		}
		ws := connector.NewWS(cfg.Live.URL,
			connector.WithWSLogger(llog),
			connector.WithReconnect(cfg.Live.ReconnectMin, cfg.Live.ReconnectMax),
		)
		venue = connector.NewVenue(ws, vopts...)
		bopts = append(bopts, broker.WithExecutor(venue))
		run = ws.Run
		feed = func() connector.Feed { return venue.Tap(b) }
	default:
		return fmt.Errorf("live: unknown source %q", cfg.Live.Source)
	}

	b = broker.New(venue, bopts...)
	if cfg.Live.Source == "oanda" {
		b.AddDealListener(&paperAccount{b: b})
	}

	metas := cfg.InstrumentMap()
	for _, sym := range cfg.Backtest.Symbols {
		meta, ok := metas[sym]
		if !ok {
			return fmt.Errorf("%s: %w", sym, broker.ErrUnknownSymbol)
		}
		if _, err := b.AddInstrument(meta); err != nil {
			return err
		}
	}
	for _, sym := range cfg.Backtest.Symbols {
		s, err := strategies.New(cfg.Strategy.Name, sym, params, llog)
		if err != nil {
			return err
		}
		if _, err := b.Register(s, sym, broker.WithTimeFrame(tf)); err != nil {
			return err
		}
	}

	llog.Info().Strs("symbols", cfg.Backtest.Symbols).Str("strategy", cfg.Strategy.Name).Msg("live session started")
	err = run(ctx, feed())
	b.ReleaseAll()

	final := b.Account()
	snap := journal.EquitySnapshot{
		RunID:       runID,
		Time:        time.Now().UTC(),
		Balance:     final.Balance,
		Equity:      final.Equity,
		MarginUsed:  final.MarginUsed,
		MarginFree:  final.MarginFree,
		MarginLevel: final.MarginLevel() * 100,
	}
	if jerr := jr.RecordEquity(snap); jerr != nil {
		llog.Error().Err(jerr).Msg("journal equity")
	}
	llog.Info().Float64("balance", final.Balance).Int("deals", len(b.Deals())).Msg("live session stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, connector.ErrClosed) {
		return nil
	}
	return err
}

// backfill loads enough closed bars for the strategy to act on the first
// live bar.
func backfill(ctx context.Context, c *oanda.Client, b *broker.Broker, symbol string, tf market.TimeFrame, warmup int, p strategies.Params) error {
	n := max(warmup, 10*p.Slow)
	end := time.Now().UTC()
	// Three times the span covers weekends and holidays on intraday frames.
	start := end.Add(-3 * time.Duration(n) * tf.Duration())
	bars, err := c.FetchBars(ctx, symbol, tf, start, end)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	for _, r := range bars {
		b.OnRate(r)
	}
	return nil
}

type streamer interface {
	Run(ctx context.Context, f connector.Feed) error
}

// runStream reopens the pricing stream until ctx ends.
func runStream(ctx context.Context, s streamer, f connector.Feed, wait time.Duration, l zerolog.Logger) error {
	if wait <= 0 {
		wait = time.Second
	}
	for {
		err := s.Run(ctx, f)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Warn().Err(err).Dur("retry_in", wait).Msg("pricing stream ended")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// paperAccount books locally filled deals into the account when no
// terminal reports it.
type paperAccount struct {
	mu sync.Mutex
	b  *broker.Broker
}

func (p *paperAccount) OnDeal(d trade.Deal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.b.Account()
	a.Balance += d.Profit + d.Commission + d.Swap
	a.Equity = a.Balance
	a.MarginFree = a.Balance - a.MarginUsed
	a.Margin = a.MarginFree
	a.Time = d.Time
	p.b.SetAccount(a)
}
