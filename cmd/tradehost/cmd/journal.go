package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradehost/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the sqlite journal",
	Long: `Query runs, deals and equity curves recorded in the sqlite journal.

Subcommands:
  runs   - List recent backtest runs
  show   - Print one run with its deals
  deals  - List the deals of a run
  equity - List the equity curve of a run
  day    - List deals made on a given day

Examples:
  tradehost journal runs -n 10
  tradehost journal show 01HV4Z3J7M0000000000000000 --org
  tradehost journal day 2024-01-15`,
}

var journalRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent backtest runs",
	Args:  cobra.NoArgs,
	RunE:  runJournalRuns,
}

var journalShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run with its deals",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalShow,
}

var journalDealsCmd = &cobra.Command{
	Use:   "deals <run-id>",
	Short: "List the deals of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDeals,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity <run-id>",
	Short: "List the equity curve of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEquity,
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List deals made on a given day (UTC)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var (
	journalLimit int
	journalOrg   bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRunsCmd)
	journalCmd.AddCommand(journalShowCmd)
	journalCmd.AddCommand(journalDealsCmd)
	journalCmd.AddCommand(journalEquityCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().String("db", "", "path to the sqlite journal")
	journalRunsCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of runs")
	journalShowCmd.Flags().BoolVar(&journalOrg, "org", false, "print as an Org-mode block")

	for _, c := range journalCmd.Commands() {
		bind(c, "journal.path", "db")
	}
}

func runJournalRuns(cmd *cobra.Command, _ []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.ListRuns(cmd.Context(), journalLimit)
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCREATED\tSTRATEGY\tSYMBOLS\tTF\tTRADES\tNET\tRETURN%\tMAXDD%")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\n",
			r.RunID, r.Created.Format("2006-01-02 15:04"), r.Strategy, r.Symbols, r.TimeFrame,
			r.Trades, r.NetProfit, r.ReturnPct, r.MaxDDPct)
	}
	return w.Flush()
}

func runJournalShow(cmd *cobra.Command, args []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !journalOrg {
		journal.PrintRun(out, r)
		return nil
	}
	deals, err := j.ListDeals(cmd.Context(), r.RunID)
	if err != nil {
		return fmt.Errorf("query deals: %w", err)
	}
	return journal.WriteOrg(out, r, deals)
}

func runJournalDeals(cmd *cobra.Command, args []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	deals, err := j.ListDeals(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("query deals: %w", err)
	}
	return printDeals(cmd.OutOrStdout(), deals)
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	points, err := j.ListEquity(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tBALANCE\tEQUITY\tMARGIN\tFREE\tLEVEL%")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.1f\n",
			p.Time.UTC().Format(time.RFC3339), p.Balance, p.Equity, p.MarginUsed, p.MarginFree, p.MarginLevel)
	}
	return w.Flush()
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	start, end, err := dayBounds(args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	j, err := openSQLite()
	if err != nil {
		return err
	}
	defer j.Close()

	deals, err := j.ListDealsBetween(cmd.Context(), start, end)
	if err != nil {
		return fmt.Errorf("query deals: %w", err)
	}
	return printDeals(cmd.OutOrStdout(), deals)
}

func printDeals(out io.Writer, deals []journal.DealRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDEAL\tORDER\tPOSITION\tSYMBOL\tTYPE\tENTRY\tVOLUME\tPRICE\tPROFIT")
	for _, d := range deals {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\t%.2f\t%.5f\t%.2f\n",
			d.Time.UTC().Format("2006-01-02 15:04:05"), d.DealID, d.OrderID, d.PositionID,
			d.Symbol, d.Type, d.Entry, d.Volume, d.Price, d.Profit)
	}
	return w.Flush()
}

func dayBounds(day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return t, t.Add(24 * time.Hour), nil
}
