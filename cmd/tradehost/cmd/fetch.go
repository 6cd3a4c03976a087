package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradehost/backtest"
	"github.com/rustyeddy/tradehost/market"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download bars into the CSV data directory",
	Long: `Fetch pulls complete bars for every configured symbol from OANDA
candles or Dukascopy ticks and writes them where the CSV loader looks for
them, so later backtests run offline.

Examples:
  TRADEHOST_OANDA_TOKEN=... tradehost fetch --symbols EURUSD,USDJPY --tf M15 \
      --start 2024-01-01 --end 2024-02-01 --data ./data
  tradehost fetch --from dukascopy --symbols EURUSD --tf H1 --start 2024-01-01`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

var (
	fetchParallel int
	fetchFrom     string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	f := fetchCmd.Flags()
	f.StringSlice("symbols", nil, "symbols to fetch")
	f.String("tf", "", "candle timeframe")
	f.String("start", "", "first candle, RFC3339 or YYYY-MM-DD")
	f.String("end", "", "end, exclusive (default now)")
	f.String("data", "", "CSV directory")
	f.IntVarP(&fetchParallel, "parallel", "p", 2, "symbols fetched at once")
	f.StringVar(&fetchFrom, "from", "oanda", "bar source: oanda or dukascopy")

	bind(fetchCmd, "backtest.symbols", "symbols")
	bind(fetchCmd, "backtest.timeframe", "tf")
	bind(fetchCmd, "backtest.start", "start")
	bind(fetchCmd, "backtest.end", "end")
	bind(fetchCmd, "data.dir", "data")
}

func runFetch(cmd *cobra.Command, _ []string) error {
	if fetchFrom != "oanda" && fetchFrom != "dukascopy" {
		return fmt.Errorf("fetch: unknown source %q", fetchFrom)
	}
	src, _, err := barLoader(fetchFrom)
	if err != nil {
		return err
	}
	start, end := cfg.Backtest.Start, cfg.Backtest.End
	if start.IsZero() {
		return fmt.Errorf("fetch: --start is required")
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	tf := cfg.Backtest.TimeFrame
	csvs := backtest.NewCSVLoader(cfg.Data.Dir)
	if cfg.Data.Pattern != "" {
		csvs.Pattern = cfg.Data.Pattern
	}

	ctx, cancel := signalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(fetchParallel, 1))
	for _, sym := range cfg.Backtest.Symbols {
		g.Go(func() error {
			bars, err := src.FetchBars(ctx, sym, tf, start, end)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", sym, err)
			}
			path := csvs.Path(sym, tf)
			if err := writeBars(path, bars); err != nil {
				return err
			}
			log.Info().Str("symbol", sym).Str("tf", tf.String()).Int("bars", len(bars)).Str("file", path).Msg("fetched")
			return nil
		})
	}
	return g.Wait()
}

func writeBars(path string, bars []market.Rate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := backtest.WriteCSV(f, bars); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
