package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradehost/market"
)

func TestSize(t *testing.T) {
	t.Parallel()

	eurusd := market.Instruments["EURUSD"]
	tests := []struct {
		name   string
		in     Inputs
		volume float64
		pips   float64
	}{
		{
			// 100 account per 0.01 move per lot: 1000 per lot at 100 pips
			name:   "usd quote",
			in:     Inputs{Equity: 10_000, RiskPct: 0.01, Entry: 1.2, Stop: 1.19, Instrument: eurusd},
			volume: 0.1,
			pips:   100,
		},
		{
			name:   "rounded down to step",
			in:     Inputs{Equity: 10_000, RiskPct: 0.01, Entry: 1.2, Stop: 1.197, Instrument: eurusd},
			volume: 0.33,
			pips:   30,
		},
		{
			name:   "capped at max",
			in:     Inputs{Equity: 1e9, RiskPct: 0.05, Entry: 1.2, Stop: 1.19, Instrument: eurusd},
			volume: 100,
			pips:   100,
		},
		{
			name:   "below minimum",
			in:     Inputs{Equity: 50, RiskPct: 0.01, Entry: 1.2, Stop: 1.19, Instrument: eurusd},
			volume: 0,
			pips:   100,
		},
		{
			name:   "no stop distance",
			in:     Inputs{Equity: 10_000, RiskPct: 0.01, Entry: 1.2, Stop: 1.2, Instrument: eurusd},
			volume: 0,
			pips:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Size(tt.in)
			assert.InDelta(t, tt.volume, got.Volume, 1e-9)
			assert.InDelta(t, tt.pips, got.StopPips, 1e-9)
			assert.InDelta(t, tt.in.Equity*tt.in.RiskPct, got.RiskAmount, 1e-9)
		})
	}
}

func TestRR(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2, RR(1.2, 1.19, 1.22), 1e-9)
	assert.InDelta(t, 2, RR(1.2, 1.21, 1.18), 1e-9)
	assert.Zero(t, RR(1.2, 1.2, 1.3))
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	acct := market.Account{Balance: 10_000, Equity: 10_000, MarginUsed: 1_000}
	intent := Intent{Symbol: "EURUSD", Volume: 0.1, Entry: 1.2, Stop: 1.19, TakeProfit: 1.22, ContractSize: 100_000}

	ok := Evaluate(Policy{MaxRiskPct: 0.02, MinRR: 1.5, MaxOpenPositions: 2, MaxMarginPct: 0.5, MaxDailyLossPct: 0.03}, intent, acct, 1, -100)
	assert.True(t, ok.Allowed, ok.Error())
	assert.InDelta(t, 100, ok.PlannedRisk, 1e-9)
	assert.InDelta(t, 0.01, ok.PlannedRiskPct, 1e-9)
	assert.InDelta(t, 2, ok.PlannedRR, 1e-9)

	tests := []struct {
		name   string
		policy Policy
		open   int
		day    float64
		code   string
	}{
		{"risk", Policy{MaxRiskPct: 0.005}, 0, 0, "RISK_TOO_HIGH"},
		{"rr", Policy{MinRR: 3}, 0, 0, "RR_TOO_LOW"},
		{"positions", Policy{MaxOpenPositions: 1}, 1, 0, "TOO_MANY_POSITIONS"},
		{"margin", Policy{MaxMarginPct: 0.05}, 0, 0, "MARGIN_TOO_HIGH"},
		{"daily loss", Policy{MaxDailyLossPct: 0.01}, 0, -100, "DAILY_LOSS_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Evaluate(tt.policy, intent, acct, tt.open, tt.day)
			assert.False(t, d.Allowed)
			if assert.Len(t, d.Violations, 1) {
				assert.Equal(t, tt.code, d.Violations[0].Code)
			}
		})
	}

	d := Evaluate(Policy{}, Intent{Entry: 1.2}, acct, 0, 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, "NO_STOP_OR_ENTRY", d.Violations[0].Code)
}
