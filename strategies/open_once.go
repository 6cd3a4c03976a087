package strategies

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
)

// OpenOnce buys Volume at the ask of the first tick it sees and then holds.
type OpenOnce struct {
	symbol    string
	volume    float64
	deviation int
	log       zerolog.Logger

	t      broker.Trader
	opened atomic.Bool
}

func NewOpenOnce(symbol string, p Params, log zerolog.Logger) (broker.Strategy, error) {
	if p.Volume <= 0 {
		return nil, errors.New("open-once: volume must be positive")
	}
	return &OpenOnce{symbol: symbol, volume: p.Volume, deviation: p.Deviation, log: log}, nil
}

func (s *OpenOnce) Initialize(t broker.Trader, _ market.Account) error {
	s.t = t
	return nil
}

func (s *OpenOnce) OnTick(tick market.Tick) {
	if tick.Symbol != s.symbol || s.opened.Load() {
		return
	}
	o, err := s.t.Buy(context.Background(), s.symbol, tick.Ask, s.volume, s.deviation, 0, 0)
	if err != nil {
		s.log.Warn().Err(err).Msg("open")
		return
	}
	s.opened.Store(true)
	s.log.Info().Int64("order", o.ID()).Float64("price", tick.Ask).Float64("volume", s.volume).Msg("opened")
}

func (s *OpenOnce) OnRate(market.Rate) {}
func (s *OpenOnce) OnRelease()         {}

// Opened reports whether the entry order went through.
func (s *OpenOnce) Opened() bool { return s.opened.Load() }
