package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeTickSource struct {
	ticks  map[string]Tick
	called int
}

func (f *fakeTickSource) GetTick(ctx context.Context, symbol string) (Tick, error) {
	f.called++
	t, ok := f.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoTick
	}
	return t, nil
}

func TestQuoteToAccountRate_QuoteEqualsAccount(t *testing.T) {
	t.Parallel()

	ps := &fakeTickSource{}
	rate, err := QuoteToAccountRate(Instruments["EURUSD"], "USD", ps)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 0, ps.called)
}

func TestQuoteToAccountRate_BaseEqualsAccount(t *testing.T) {
	t.Parallel()

	ps := &fakeTickSource{ticks: map[string]Tick{
		"USDJPY": {Symbol: "USDJPY", Bid: 149.0, Ask: 151.0},
	}}
	rate, err := QuoteToAccountRate(Instruments["USDJPY"], "USD", ps)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0/150.0, rate, 1e-12)
	assert.Equal(t, 1, ps.called)
}

func TestQuoteToAccountRate_Cross(t *testing.T) {
	t.Parallel()

	ps := &fakeTickSource{ticks: map[string]Tick{
		"GBPUSD": {Symbol: "GBPUSD", Bid: 1.25, Ask: 1.27},
	}}
	rate, err := QuoteToAccountRate(Instruments["EURGBP"], "USD", ps)
	assert.NoError(t, err)
	assert.InDelta(t, 1.26, rate, 1e-12)
}

func TestQuoteToAccountRate_CrossInverted(t *testing.T) {
	t.Parallel()

	ps := &fakeTickSource{ticks: map[string]Tick{
		"USDJPY": {Symbol: "USDJPY", Bid: 100, Ask: 100},
	}}
	meta := InstrumentMeta{Symbol: "EURJPY", BaseCurrency: "EUR", QuoteCurrency: "JPY", Digits: 3, ContractSize: 100_000}
	rate, err := QuoteToAccountRate(meta, "USD", ps)
	assert.NoError(t, err)
	assert.InDelta(t, 0.01, rate, 1e-12)
}

func TestQuoteToAccountRate_Errors(t *testing.T) {
	t.Parallel()

	ps := &fakeTickSource{}
	_, err := QuoteToAccountRate(Instruments["USDJPY"], "USD", ps)
	assert.ErrorIs(t, err, ErrNoTick)

	meta := InstrumentMeta{Symbol: "XAUXAG", BaseCurrency: "XAU", QuoteCurrency: "XAG", Digits: 2, ContractSize: 1}
	_, err = QuoteToAccountRate(meta, "USD", ps)
	assert.Error(t, err)
}
