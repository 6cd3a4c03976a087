package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; the deal listener and the equity sampler share it
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordDeal(d DealRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO deals
		(run_id, deal_id, order_id, position_id, symbol, time, type, entry, price, volume, commission, swap, profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.DealID, d.OrderID, d.PositionID, d.Symbol, d.Time.UTC(), d.Type, d.Entry,
		d.Price, d.Volume, d.Commission, d.Swap, d.Profit,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(run_id, time, balance, equity, margin_used, margin_free, margin_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Time.UTC(), e.Balance, e.Equity, e.MarginUsed, e.MarginFree, e.MarginLevel,
	)
	return err
}

// RecordRun inserts r, replacing an earlier row with the same id.
func (j *SQLite) RecordRun(r BacktestRun) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO backtest_runs
		(run_id, created, strategy, symbols, timeframe, dataset, config, start_time, end_time,
		 trades, wins, losses, start_balance, end_balance, net_profit, return_pct, win_rate,
		 profit_factor, max_dd_pct, sharpe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created.UTC(), r.Strategy, r.Symbols, r.TimeFrame, r.Dataset, r.Config,
		r.Start.UTC(), r.End.UTC(), r.Trades, r.Wins, r.Losses, r.StartBalance, r.EndBalance,
		r.NetProfit, r.ReturnPct, r.WinRate, r.ProfitFactor, r.MaxDDPct, r.Sharpe,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
