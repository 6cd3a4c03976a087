package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/journal"
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/pkg/id"
	"github.com/rustyeddy/tradehost/trade"
)

// StrategyFactory builds a fresh strategy for symbol.
type StrategyFactory func(symbol string) (broker.Strategy, error)

// Runner wires a backtest end to end: instruments, one strategy per symbol,
// the journal and the run summary.
type Runner struct {
	Loader      Loader
	Config      Config
	Strategy    string
	NewStrategy StrategyFactory
	Params      []byte
	Symbols     []string
	TimeFrame   market.TimeFrame
	Dataset     string

	// Instruments defaults to the built-in registry.
	Instruments map[string]market.InstrumentMeta
	// Journal defaults to journal.Nop.
	Journal journal.Journal
	Log     zerolog.Logger
}

func (r *Runner) Run(ctx context.Context) (journal.BacktestRun, Result, error) {
	if r.NewStrategy == nil {
		return journal.BacktestRun{}, Result{}, errors.New("backtest: strategy is required")
	}
	if len(r.Symbols) == 0 {
		return journal.BacktestRun{}, Result{}, errors.New("backtest: no symbols")
	}
	tf := r.TimeFrame
	if tf == 0 {
		tf = market.H1
	}
	metas := r.Instruments
	if metas == nil {
		metas = market.Defaults()
	}
	jr := r.Journal
	if jr == nil {
		jr = journal.Nop{}
	}

	runID := id.New()
	log := r.Log.With().Str("run", runID).Logger()

	deals := broker.DealListenerFunc(func(d trade.Deal) {
		if err := jr.RecordDeal(journal.FromDeal(runID, d)); err != nil {
			log.Error().Err(err).Int64("deal", d.ID).Msg("journal deal")
		}
	})
	equity := func(a market.Account) {
		snap := journal.EquitySnapshot{
			RunID:       runID,
			Time:        a.Time,
			Balance:     a.Balance,
			Equity:      a.Equity,
			MarginUsed:  a.MarginUsed,
			MarginFree:  a.MarginFree,
			MarginLevel: a.MarginLevel() * 100,
		}
		if err := jr.RecordEquity(snap); err != nil {
			log.Error().Err(err).Msg("journal equity")
		}
	}

	bt, err := New(r.Loader, r.Config, WithLogger(log), WithDealListener(deals), WithEquityListener(equity))
	if err != nil {
		return journal.BacktestRun{}, Result{}, err
	}
	for _, sym := range r.Symbols {
		meta, ok := metas[sym]
		if !ok {
			return journal.BacktestRun{}, Result{}, fmt.Errorf("%s: %w", sym, broker.ErrUnknownSymbol)
		}
		if err := bt.AddInstrument(meta); err != nil {
			return journal.BacktestRun{}, Result{}, err
		}
	}
	for _, sym := range r.Symbols {
		s, err := r.NewStrategy(sym)
		if err != nil {
			return journal.BacktestRun{}, Result{}, fmt.Errorf("strategy %s for %s: %w", r.Strategy, sym, err)
		}
		if _, err := bt.Register(s, sym, tf); err != nil {
			return journal.BacktestRun{}, Result{}, err
		}
	}

	res, err := bt.Run(ctx)
	if err != nil {
		return journal.BacktestRun{}, res, err
	}

	run := Summarize(res, journal.BacktestRun{
		RunID:     runID,
		Created:   time.Now().UTC(),
		Strategy:  r.Strategy,
		Symbols:   strings.Join(r.Symbols, ","),
		TimeFrame: tf.String(),
		Dataset:   r.Dataset,
		Config:    r.Params,
	})
	if err := jr.RecordRun(run); err != nil {
		return run, res, fmt.Errorf("journal run: %w", err)
	}
	return run, res, nil
}

// Summarize fills the result fields of run from res.
func Summarize(res Result, run journal.BacktestRun) journal.BacktestRun {
	st := res.Stats
	run.Start = res.Start
	run.End = res.End
	run.Trades = st.Trades
	run.Wins = st.ProfitTrades
	run.Losses = st.LossTrades
	run.StartBalance = st.InitialDeposit
	run.EndBalance = res.Account.Balance
	run.NetProfit = st.NetProfit
	if st.InitialDeposit > 0 {
		run.ReturnPct = st.NetProfit / st.InitialDeposit * 100
	}
	if st.Trades > 0 {
		run.WinRate = float64(st.ProfitTrades) / float64(st.Trades) * 100
	}
	run.ProfitFactor = st.ProfitFactor
	run.MaxDDPct = st.EquityDrawdownPct
	run.Sharpe = st.SharpeRatio
	return run
}
