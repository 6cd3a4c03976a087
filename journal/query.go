package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrRunNotFound = errors.New("run not found")

const dealColumns = `run_id, deal_id, order_id, position_id, symbol, time, type, entry, price, volume, commission, swap, profit`

// ListDeals returns the deals of runID in booking order.
func (j *SQLite) ListDeals(ctx context.Context, runID string) ([]DealRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE run_id = ?
		ORDER BY deal_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	return scanDeals(rows)
}

// ListDealsBetween returns deals whose time is within [start, end).
func (j *SQLite) ListDealsBetween(ctx context.Context, start, end time.Time) ([]DealRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, deal_id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	return scanDeals(rows)
}

func scanDeals(rows *sql.Rows) ([]DealRecord, error) {
	defer rows.Close()

	var out []DealRecord
	for rows.Next() {
		var d DealRecord
		if err := rows.Scan(
			&d.RunID, &d.DealID, &d.OrderID, &d.PositionID, &d.Symbol, &d.Time, &d.Type, &d.Entry,
			&d.Price, &d.Volume, &d.Commission, &d.Swap, &d.Profit,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquity returns the equity curve of runID, oldest first.
func (j *SQLite) ListEquity(ctx context.Context, runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, time, balance, equity, margin_used, margin_free, margin_level
		FROM equity
		WHERE run_id = ?
		ORDER BY time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.MarginFree, &e.MarginLevel); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const runColumns = `run_id, created, strategy, symbols, timeframe, dataset, config, start_time, end_time,
	trades, wins, losses, start_balance, end_balance, net_profit, return_pct, win_rate,
	profit_factor, max_dd_pct, sharpe`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (BacktestRun, error) {
	var r BacktestRun
	err := s.Scan(
		&r.RunID, &r.Created, &r.Strategy, &r.Symbols, &r.TimeFrame, &r.Dataset, &r.Config,
		&r.Start, &r.End, &r.Trades, &r.Wins, &r.Losses, &r.StartBalance, &r.EndBalance,
		&r.NetProfit, &r.ReturnPct, &r.WinRate, &r.ProfitFactor, &r.MaxDDPct, &r.Sharpe,
	)
	return r, err
}

func (j *SQLite) GetRun(ctx context.Context, runID string) (BacktestRun, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BacktestRun{}, fmt.Errorf("%q: %w", runID, ErrRunNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs first, at most limit when limit > 0.
func (j *SQLite) ListRuns(ctx context.Context, limit int) ([]BacktestRun, error) {
	q := `SELECT ` + runColumns + ` FROM backtest_runs ORDER BY created DESC, run_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
