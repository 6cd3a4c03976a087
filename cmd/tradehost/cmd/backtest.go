package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradehost/backtest"
	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/journal"
	"github.com/rustyeddy/tradehost/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a strategy over historical bars",
	Long: `Backtest replays historical bars through the simulated venue and the
broker, one strategy instance per symbol, and journals every deal.

Strategies:
  - noop:      does nothing (baseline)
  - open-once: buys once on the first tick
  - ema-cross: EMA crossover with risk based sizing
  - ema-cross-adx: ema-cross gated on ADX trend strength

Examples:
  tradehost backtest -c tradehost.yaml
  tradehost backtest --strategy ema-cross --symbols EURUSD,GBPUSD --tf H1 \
      --start 2024-01-01 --end 2024-06-01 --data ./data --org`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

var btOrg bool

func init() {
	rootCmd.AddCommand(backtestCmd)

	f := backtestCmd.Flags()
	f.StringP("strategy", "s", "", "strategy name (see tradehost strategies)")
	f.StringSlice("symbols", nil, "symbols to trade")
	f.String("tf", "", "bar timeframe (M1 ... MN1)")
	f.String("start", "", "first bar, RFC3339 or YYYY-MM-DD")
	f.String("end", "", "end of the run, exclusive")
	f.String("data", "", "CSV directory")
	f.String("source", "", "bar source: csv, oanda or dukascopy")
	f.Float64("balance", 0, "starting balance")
	f.Bool("close-end", false, "close open positions at the end")
	f.BoolVar(&btOrg, "org", false, "print the run as an Org-mode block")

	bind(backtestCmd, "strategy.name", "strategy")
	bind(backtestCmd, "backtest.symbols", "symbols")
	bind(backtestCmd, "backtest.timeframe", "tf")
	bind(backtestCmd, "backtest.start", "start")
	bind(backtestCmd, "backtest.end", "end")
	bind(backtestCmd, "data.dir", "data")
	bind(backtestCmd, "data.source", "source")
	bind(backtestCmd, "account.balance", "balance")
	bind(backtestCmd, "backtest.close_at_end", "close-end")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	params, err := cfg.StrategyParams()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	src, dataset, err := barLoader(cfg.Data.Source)
	if err != nil {
		return err
	}
	jr, err := openJournal(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer jr.Close()

	name := cfg.Strategy.Name
	r := &backtest.Runner{
		Loader:   src,
		Config:   cfg.BacktestEngine(),
		Strategy: name,
		NewStrategy: func(symbol string) (broker.Strategy, error) {
			return strategies.New(name, symbol, params, log)
		},
		Params:      raw,
		Symbols:     cfg.Backtest.Symbols,
		TimeFrame:   cfg.Backtest.TimeFrame,
		Dataset:     dataset,
		Instruments: cfg.InstrumentMap(),
		Journal:     jr,
		Log:         log,
	}

	ctx, cancel := signalContext()
	defer cancel()

	began := time.Now()
	run, res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("run", run.RunID).
		Int("bars", res.Bars).
		Dur("took", time.Since(began)).
		Msg("backtest finished")

	out := cmd.OutOrStdout()
	if btOrg {
		var deals []journal.DealRecord
		for _, d := range res.Deals {
			deals = append(deals, journal.FromDeal(run.RunID, d))
		}
		return journal.WriteOrg(out, run, deals)
	}
	journal.PrintRun(out, run)
	if cfg.Journal.Type != "none" {
		fmt.Fprintf(os.Stderr, "\njournal: %s (%s)\n", cfg.Journal.Path, cfg.Journal.Type)
	}
	return nil
}
