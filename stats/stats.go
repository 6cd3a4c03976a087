// Package stats computes the testing report of a finished backtest from its
// deals and equity curve.
package stats

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/trade"
)

// Point is one equity curve sample. MarginLevel is in percent, 0 when no
// margin is used.
type Point struct {
	Time        time.Time
	Balance     float64
	Equity      float64
	MarginLevel float64
}

// Report holds the testing statistics. Amounts are in account currency,
// drawdown percentages are relative to the running peak.
type Report struct {
	InitialDeposit float64
	NetProfit      float64
	GrossProfit    float64
	GrossLoss      float64
	LargestWin     float64
	LargestLoss    float64

	MaxConsecutiveWins       int
	MaxConsecutiveWinAmount  float64
	MaxConsecutiveLosses     int
	MaxConsecutiveLossAmount float64

	BalanceDrawdown    float64
	BalanceDrawdownPct float64
	EquityDrawdown     float64
	EquityDrawdownPct  float64

	ExpectedPayoff float64
	ProfitFactor   float64
	RecoveryFactor float64
	SharpeRatio    float64
	MinMarginLevel float64

	Deals        int
	Trades       int
	ProfitTrades int
	LossTrades   int
	LongTrades   int
	ShortTrades  int
}

// Compute builds the report. A trade is a deal that takes volume out of a
// position; its result includes commission and swap.
func Compute(initial float64, deals []trade.Deal, equity []Point) Report {
	r := Report{InitialDeposit: initial, Deals: len(deals)}

	net := decimal.Zero
	gross, loss := decimal.Zero, decimal.Zero
	balance := []float64{initial}
	bal := decimal.NewFromFloat(initial)

	var winRun, lossRun int
	winAmt, lossAmt := decimal.Zero, decimal.Zero

	for _, d := range deals {
		res := decimal.NewFromFloat(d.Profit).
			Add(decimal.NewFromFloat(d.Commission)).
			Add(decimal.NewFromFloat(d.Swap))
		net = net.Add(res)
		if d.Entry != trade.EntryOut {
			if !res.IsZero() {
				bal = bal.Add(res)
				balance = append(balance, bal.InexactFloat64())
			}
			continue
		}
		bal = bal.Add(res)
		balance = append(balance, bal.InexactFloat64())

		r.Trades++
		// closing sell ends a long
		if d.Type == trade.DealSell {
			r.LongTrades++
		} else {
			r.ShortTrades++
		}

		v := res.InexactFloat64()
		switch {
		case res.IsPositive():
			r.ProfitTrades++
			gross = gross.Add(res)
			r.LargestWin = math.Max(r.LargestWin, v)
			winRun++
			winAmt = winAmt.Add(res)
			lossRun, lossAmt = 0, decimal.Zero
		case res.IsNegative():
			r.LossTrades++
			loss = loss.Add(res)
			r.LargestLoss = math.Min(r.LargestLoss, v)
			lossRun++
			lossAmt = lossAmt.Add(res)
			winRun, winAmt = 0, decimal.Zero
		default:
			winRun, winAmt = 0, decimal.Zero
			lossRun, lossAmt = 0, decimal.Zero
		}
		if winRun > r.MaxConsecutiveWins {
			r.MaxConsecutiveWins = winRun
			r.MaxConsecutiveWinAmount = winAmt.InexactFloat64()
		}
		if lossRun > r.MaxConsecutiveLosses {
			r.MaxConsecutiveLosses = lossRun
			r.MaxConsecutiveLossAmount = lossAmt.InexactFloat64()
		}
	}

	r.NetProfit = net.InexactFloat64()
	r.GrossProfit = gross.InexactFloat64()
	r.GrossLoss = loss.InexactFloat64()
	if r.Trades > 0 {
		r.ExpectedPayoff = net.Div(decimal.NewFromInt(int64(r.Trades))).InexactFloat64()
	}
	if loss.IsNegative() {
		r.ProfitFactor = gross.Div(loss.Abs()).InexactFloat64()
	}

	r.BalanceDrawdown, r.BalanceDrawdownPct = Drawdown(balance)

	eq := make([]float64, 0, len(equity))
	for _, p := range equity {
		eq = append(eq, p.Equity)
		if p.MarginLevel > 0 && (r.MinMarginLevel == 0 || p.MarginLevel < r.MinMarginLevel) {
			r.MinMarginLevel = p.MarginLevel
		}
	}
	r.EquityDrawdown, r.EquityDrawdownPct = Drawdown(eq)
	if r.EquityDrawdown > 0 {
		r.RecoveryFactor = r.NetProfit / r.EquityDrawdown
	}
	r.SharpeRatio = Sharpe(eq)
	return r
}

// Drawdown returns the largest peak to trough fall of series and the
// largest fall relative to its peak, in percent.
func Drawdown(series []float64) (float64, float64) {
	var peak, abs, pct float64
	for i, v := range series {
		if i == 0 || v > peak {
			peak = v
			continue
		}
		dd := peak - v
		abs = math.Max(abs, dd)
		if peak > 0 {
			pct = math.Max(pct, dd/peak*100)
		}
	}
	return abs, pct
}

// Sharpe is the mean over the standard deviation of the per sample returns
// of series. It is 0 for fewer than two returns or a flat curve.
func Sharpe(series []float64) float64 {
	var rets []float64
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			continue
		}
		rets = append(rets, series[i]/series[i-1]-1)
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, x := range rets {
		mean += x
	}
	mean /= float64(len(rets))
	var ss float64
	for _, x := range rets {
		ss += (x - mean) * (x - mean)
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd
}
