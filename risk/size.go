// Package risk sizes positions from a stop distance and vets planned trades
// against an account policy.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradehost/market"
)

type Inputs struct {
	Equity         float64
	RiskPct        float64 // 0.005 risks half a percent
	Entry          float64
	Stop           float64
	QuoteToAccount float64 // 1 when the account holds the quote currency
	Instrument     market.InstrumentMeta
}

type Result struct {
	Volume     float64
	StopPips   float64
	RiskAmount float64
}

// Size returns the volume in lots whose loss at Stop is RiskPct of Equity,
// rounded down to the volume step and capped at the maximum. Volume is 0
// when even the minimum would risk more.
func Size(in Inputs) Result {
	meta := in.Instrument
	res := Result{RiskAmount: in.Equity * in.RiskPct}
	dist := decimal.NewFromFloat(in.Entry).Sub(decimal.NewFromFloat(in.Stop)).Abs()
	if pip := meta.Pip(); pip > 0 {
		res.StopPips = dist.Div(decimal.NewFromFloat(pip)).InexactFloat64()
	}
	conv := in.QuoteToAccount
	if conv <= 0 {
		conv = 1
	}
	perLot := dist.Mul(decimal.NewFromFloat(meta.ContractSize)).Mul(decimal.NewFromFloat(conv))
	if !perLot.IsPositive() || res.RiskAmount <= 0 {
		return res
	}

	lots := decimal.NewFromFloat(res.RiskAmount).Div(perLot)
	if meta.VolumeStep > 0 {
		step := decimal.NewFromFloat(meta.VolumeStep)
		lots = lots.Div(step).Floor().Mul(step)
	}
	if meta.VolumeMax > 0 && lots.GreaterThan(decimal.NewFromFloat(meta.VolumeMax)) {
		lots = decimal.NewFromFloat(meta.VolumeMax)
	}
	if lots.LessThan(decimal.NewFromFloat(meta.VolumeMin)) || !lots.IsPositive() {
		return res
	}
	res.Volume = lots.InexactFloat64()
	return res
}

// PlannedRisk is the account currency loss of volume lots stopped at stop.
func PlannedRisk(volume, entry, stop, contractSize, quoteToAccount float64) float64 {
	d := entry - stop
	if d < 0 {
		d = -d
	}
	return volume * contractSize * d * quoteToAccount
}

// RR is the reward to risk ratio of a trade, 0 without a stop distance.
func RR(entry, stop, takeProfit float64) float64 {
	risk := entry - stop
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return 0
	}
	reward := takeProfit - entry
	if reward < 0 {
		reward = -reward
	}
	return reward / risk
}
