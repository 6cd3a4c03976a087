package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

func TestUnrealizedPL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		dir      trade.Direction
		volume   float64
		entry    float64
		mark     float64
		conv     float64
		expected float64
	}{
		{"long_profit", trade.Buy, 0.01, 1.2000, 1.2050, 1, 5},
		{"long_loss", trade.Buy, 0.01, 1.2000, 1.1900, 1, -10},
		{"short_profit", trade.Sell, 0.01, 1.2000, 1.1900, 1, 10},
		{"short_loss", trade.Sell, 0.01, 1.2000, 1.2100, 1, -10},
		{"converted", trade.Buy, 1, 150.00, 150.10, 1.0 / 150.10, 10000 / 150.10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := UnrealizedPL(tt.dir, tt.volume, tt.entry, tt.mark, 100_000, tt.conv)
			assert.InDelta(t, tt.expected, got, 1e-6)
		})
	}
}

func TestPositionMargin(t *testing.T) {
	t.Parallel()

	meta := market.Instruments["EURUSD"]
	assert.InDelta(t, 1200.0, PositionMargin(meta, 1, 1.2, 100, 1), 1e-9)
	assert.InDelta(t, 120000.0, PositionMargin(meta, 1, 1.2, 0, 1), 1e-9)

	meta.MarginRate = 0.5
	assert.InDelta(t, 600.0, PositionMargin(meta, 1, 1.2, 100, 1), 1e-9)
}
