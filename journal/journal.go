// Package journal is the append-only audit trail of a run: every deal, the
// equity curve and one summary row per backtest. Nothing in the engine
// reads it back.
package journal

import (
	"time"

	"github.com/rustyeddy/tradehost/trade"
)

type DealRecord struct {
	RunID      string
	DealID     int64
	OrderID    int64
	PositionID int64
	Symbol     string
	Time       time.Time
	Type       string
	Entry      string
	Price      float64
	Volume     float64
	Commission float64
	Swap       float64
	Profit     float64
}

// FromDeal stamps d with runID.
func FromDeal(runID string, d trade.Deal) DealRecord {
	return DealRecord{
		RunID:      runID,
		DealID:     d.ID,
		OrderID:    d.OrderID,
		PositionID: d.PositionID,
		Symbol:     d.Symbol,
		Time:       d.Time,
		Type:       d.Type.String(),
		Entry:      d.Entry.String(),
		Price:      d.Price,
		Volume:     d.Volume,
		Commission: d.Commission,
		Swap:       d.Swap,
		Profit:     d.Profit,
	}
}

type EquitySnapshot struct {
	RunID       string
	Time        time.Time
	Balance     float64
	Equity      float64
	MarginUsed  float64
	MarginFree  float64
	MarginLevel float64
}

// BacktestRun is the summary row of one backtest.
type BacktestRun struct {
	RunID     string
	Created   time.Time
	Strategy  string
	Symbols   string
	TimeFrame string
	Dataset   string
	Config    []byte

	Start time.Time
	End   time.Time

	Trades int
	Wins   int
	Losses int

	StartBalance float64
	EndBalance   float64

	NetProfit    float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64
	Sharpe       float64
}

type Journal interface {
	RecordDeal(DealRecord) error
	RecordEquity(EquitySnapshot) error
	RecordRun(BacktestRun) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDeal(DealRecord) error       { return nil }
func (Nop) RecordEquity(EquitySnapshot) error { return nil }
func (Nop) RecordRun(BacktestRun) error       { return nil }
func (Nop) Close() error                      { return nil }
