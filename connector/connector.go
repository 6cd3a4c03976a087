// Package connector links a broker to a live trading terminal: a feed of
// ticks, bars and account updates in, trade commands out.
package connector

import (
	"context"
	"errors"

	"github.com/rustyeddy/tradehost/market"
)

var (
	ErrNotConnected = errors.New("connector: not connected")
	ErrClosed       = errors.New("connector: closed")
	ErrRemote       = errors.New("connector: remote error")
)

// Feed receives decoded updates. *broker.Broker implements it.
type Feed interface {
	OnTick(t market.Tick)
	OnRate(r market.Rate)
	OnAccountUpdate(a market.Account)
}

// Source pushes updates into f until ctx ends or the stream fails.
type Source interface {
	Run(ctx context.Context, f Feed) error
}

// Connector is a Source that also executes terminal commands. The reply
// is the raw result string.
type Connector interface {
	Source
	ExecuteCommand(ctx context.Context, cmd string, args ...string) (string, error)
}
