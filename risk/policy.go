package risk

import (
	"fmt"

	"github.com/rustyeddy/tradehost/market"
)

// Policy limits are ignored when zero.
type Policy struct {
	MaxRiskPct       float64 `mapstructure:"max_risk_pct" yaml:"max_risk_pct"`
	MinRR            float64 `mapstructure:"min_rr" yaml:"min_rr"`
	MaxOpenPositions int     `mapstructure:"max_open_positions" yaml:"max_open_positions"`
	MaxMarginPct     float64 `mapstructure:"max_margin_pct" yaml:"max_margin_pct"`
	MaxDailyLossPct  float64 `mapstructure:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
}

// Intent is a trade about to be sent.
type Intent struct {
	Symbol         string
	Volume         float64
	Entry          float64
	Stop           float64
	TakeProfit     float64
	ContractSize   float64
	QuoteToAccount float64
}

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    float64
	PlannedRiskPct float64
	PlannedRR      float64
}

func (d *Decision) add(code, format string, args ...any) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: fmt.Sprintf(format, args...)})
	d.Allowed = false
}

func (d Decision) Error() string {
	if len(d.Violations) == 0 {
		return "allowed"
	}
	return d.Violations[0].Code + ": " + d.Violations[0].Msg
}

// Evaluate checks intent against p given the account, the number of open
// positions and the profit realized today.
func Evaluate(p Policy, in Intent, acct market.Account, open int, dayRealized float64) Decision {
	d := Decision{Allowed: true}

	if in.Entry == 0 || in.Stop == 0 {
		d.add("NO_STOP_OR_ENTRY", "entry and stop must be set")
		return d
	}
	if in.Volume <= 0 {
		d.add("NO_VOLUME", "volume must be positive")
		return d
	}

	conv := in.QuoteToAccount
	if conv <= 0 {
		conv = 1
	}
	d.PlannedRisk = PlannedRisk(in.Volume, in.Entry, in.Stop, in.ContractSize, conv)
	if acct.Equity > 0 {
		d.PlannedRiskPct = d.PlannedRisk / acct.Equity
	}
	d.PlannedRR = RR(in.Entry, in.Stop, in.TakeProfit)

	if p.MaxRiskPct > 0 && (acct.Equity <= 0 || d.PlannedRiskPct > p.MaxRiskPct) {
		d.add("RISK_TOO_HIGH", "planned risk %.2f%% exceeds max %.2f%%", 100*d.PlannedRiskPct, 100*p.MaxRiskPct)
	}
	if p.MinRR > 0 && in.TakeProfit != 0 && d.PlannedRR < p.MinRR {
		d.add("RR_TOO_LOW", "RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR)
	}
	if p.MaxOpenPositions > 0 && open >= p.MaxOpenPositions {
		d.add("TOO_MANY_POSITIONS", "open positions %d >= max %d", open, p.MaxOpenPositions)
	}
	if p.MaxMarginPct > 0 && acct.Equity > 0 && acct.MarginUsed/acct.Equity > p.MaxMarginPct {
		d.add("MARGIN_TOO_HIGH", "margin used %.2f%% exceeds max %.2f%%",
			100*acct.MarginUsed/acct.Equity, 100*p.MaxMarginPct)
	}
	if p.MaxDailyLossPct > 0 {
		limit := -p.MaxDailyLossPct * acct.Balance
		if dayRealized <= limit {
			d.add("DAILY_LOSS_LIMIT", "day realized %.2f <= limit %.2f", dayRealized, limit)
		}
	}
	return d
}
