package sim

import (
	"github.com/rustyeddy/tradehost/market"
	"github.com/rustyeddy/tradehost/trade"
)

// PositionMargin is the margin volume lots hold at price, in account
// currency.
func PositionMargin(meta market.InstrumentMeta, volume, price float64, leverage int, quoteToAccount float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	rate := meta.MarginRate
	if rate <= 0 {
		rate = 1
	}
	notionalQuote := volume * meta.ContractSize * price
	return notionalQuote / float64(leverage) * rate * quoteToAccount
}

// UnrealizedPL is the open profit of volume lots entered at entry and
// marked at mark, in account currency.
func UnrealizedPL(dir trade.Direction, volume, entry, mark, contractSize, quoteToAccount float64) float64 {
	plQuote := float64(dir) * volume * contractSize * (mark - entry)
	return plQuote * quoteToAccount
}
