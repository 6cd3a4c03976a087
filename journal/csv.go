package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	dealHeader   = []string{"run_id", "deal_id", "order_id", "position_id", "symbol", "time", "type", "entry", "price", "volume", "commission", "swap", "profit"}
	equityHeader = []string{"run_id", "time", "balance", "equity", "margin_used", "margin_free", "margin_level"}
	runHeader    = []string{"run_id", "created", "strategy", "symbols", "timeframe", "dataset", "start", "end", "trades", "wins", "losses", "start_balance", "end_balance", "net_profit", "return_pct", "win_rate", "profit_factor", "max_dd_pct", "sharpe"}
)

// CSV writes deals.csv, equity.csv and runs.csv into a directory.
type CSV struct {
	mu     sync.Mutex
	files  []*os.File
	deals  *csv.Writer
	equity *csv.Writer
	runs   *csv.Writer
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j := &CSV{}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.deals, err = open("deals.csv", dealHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if j.equity, err = open("equity.csv", equityHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	if j.runs, err = open("runs.csv", runHeader); err != nil {
		return nil, errors.Join(err, j.closeFiles())
	}
	return j, nil
}

func (j *CSV) RecordDeal(d DealRecord) error {
	return j.write(j.deals, []string{
		d.RunID,
		i(d.DealID),
		i(d.OrderID),
		i(d.PositionID),
		d.Symbol,
		d.Time.UTC().Format(time.RFC3339),
		d.Type,
		d.Entry,
		f(d.Price),
		f(d.Volume),
		f(d.Commission),
		f(d.Swap),
		f(d.Profit),
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return j.write(j.equity, []string{
		e.RunID,
		e.Time.UTC().Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.MarginFree),
		f(e.MarginLevel),
	})
}

func (j *CSV) RecordRun(r BacktestRun) error {
	return j.write(j.runs, []string{
		r.RunID,
		r.Created.UTC().Format(time.RFC3339),
		r.Strategy,
		r.Symbols,
		r.TimeFrame,
		r.Dataset,
		r.Start.UTC().Format(time.RFC3339),
		r.End.UTC().Format(time.RFC3339),
		strconv.Itoa(r.Trades),
		strconv.Itoa(r.Wins),
		strconv.Itoa(r.Losses),
		f(r.StartBalance),
		f(r.EndBalance),
		f(r.NetProfit),
		f(r.ReturnPct),
		f(r.WinRate),
		f(r.ProfitFactor),
		f(r.MaxDDPct),
		f(r.Sharpe),
	})
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for _, w := range []*csv.Writer{j.deals, j.equity, j.runs} {
		w.Flush()
		errs = append(errs, w.Error())
	}
	errs = append(errs, j.closeFiles())
	return errors.Join(errs...)
}

func (j *CSV) closeFiles() error {
	var errs []error
	for _, f := range j.files {
		errs = append(errs, f.Close())
	}
	j.files = nil
	return errors.Join(errs...)
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

func i(x int64) string {
	return strconv.FormatInt(x, 10)
}
