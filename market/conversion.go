package market

import (
	"context"
	"fmt"
)

// QuoteToAccountRate returns the factor that converts an amount in the
// instrument's quote currency into accountCurrency.
func QuoteToAccountRate(meta InstrumentMeta, accountCurrency string, prices TickSource) (float64, error) {
	// EURUSD on a USD account
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// USDJPY on a USD account: JPY per USD, inverted
	if meta.BaseCurrency == accountCurrency {
		return invertedMid(meta.Symbol, prices)
	}

	// EURGBP on a USD account: go through GBPUSD or USDGBP
	if cross, ok := FindPair(meta.QuoteCurrency, accountCurrency); ok {
		px, err := prices.GetTick(context.Background(), cross.Symbol)
		if err != nil {
			return 0, fmt.Errorf("convert %s via %s: %w", meta.Symbol, cross.Symbol, err)
		}
		return px.Mid(), nil
	}
	if cross, ok := FindPair(accountCurrency, meta.QuoteCurrency); ok {
		return invertedMid(cross.Symbol, prices)
	}

	return 0, fmt.Errorf(
		"no conversion path for %s -> %s",
		meta.QuoteCurrency,
		accountCurrency,
	)
}

func invertedMid(symbol string, prices TickSource) (float64, error) {
	px, err := prices.GetTick(context.Background(), symbol)
	if err != nil {
		return 0, fmt.Errorf("convert via %s: %w", symbol, err)
	}
	mid := px.Mid()
	if mid <= 0 {
		return 0, fmt.Errorf("convert via %s: no price", symbol)
	}
	return 1.0 / mid, nil
}
