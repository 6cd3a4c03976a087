package connector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradehost/broker"
	"github.com/rustyeddy/tradehost/market"
)

// Levels are the stop and freeze distances of a symbol in points.
type Levels struct {
	Stop   int `mapstructure:"stop" yaml:"stop"`
	Freeze int `mapstructure:"freeze" yaml:"freeze"`
}

type VenueOption func(*Venue)

func WithVenueLogger(l zerolog.Logger) VenueOption { return func(v *Venue) { v.log = l } }

// WithLevels sets the levels of symbol, or the default for "".
func WithLevels(symbol string, l Levels) VenueOption {
	return func(v *Venue) {
		if symbol == "" {
			v.def = l
			return
		}
		v.levels[symbol] = l
	}
}

// WithCommandTimeout bounds every command sent by Execute.
func WithCommandTimeout(d time.Duration) VenueOption {
	return func(v *Venue) { v.timeout = d }
}

// Venue is the live side of a broker: it quotes from the ticks flowing
// through Tap and executes validated requests as terminal commands.
type Venue struct {
	conn    Connector
	quotes  *market.TickStore
	levels  map[string]Levels
	def     Levels
	timeout time.Duration
	log     zerolog.Logger
}

var (
	_ broker.Venue    = (*Venue)(nil)
	_ broker.Executor = (*Venue)(nil)
)

// NewVenue quotes from Tap and executes through conn. A nil conn gives a
// quote-only venue for paper trading.
func NewVenue(conn Connector, opts ...VenueOption) *Venue {
	v := &Venue{
		conn:    conn,
		quotes:  market.NewTickStore(),
		levels:  make(map[string]Levels),
		timeout: 10 * time.Second,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Venue) Bid(symbol string) (float64, error) {
	t, err := v.quotes.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", symbol, broker.ErrNoQuote)
	}
	return t.Bid, nil
}

func (v *Venue) Ask(symbol string) (float64, error) {
	t, err := v.quotes.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", symbol, broker.ErrNoQuote)
	}
	return t.Ask, nil
}

func (v *Venue) StopLevel(symbol string) int   { return v.levelsOf(symbol).Stop }
func (v *Venue) FreezeLevel(symbol string) int { return v.levelsOf(symbol).Freeze }

func (v *Venue) levelsOf(symbol string) Levels {
	if l, ok := v.levels[symbol]; ok {
		return l
	}
	return v.def
}

// GetTick returns the last quote of symbol.
func (v *Venue) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	return v.quotes.GetTick(ctx, symbol)
}

// Tap returns a Feed that records quotes before passing every update on
// to next.
func (v *Venue) Tap(next Feed) Feed { return tap{v: v, next: next} }

type tap struct {
	v    *Venue
	next Feed
}

func (t tap) OnTick(tk market.Tick) {
	if tk.Bid > 0 && tk.Ask >= tk.Bid {
		t.v.quotes.Set(tk)
	}
	t.next.OnTick(tk)
}

func (t tap) OnRate(r market.Rate)             { t.next.OnRate(r) }
func (t tap) OnAccountUpdate(a market.Account) { t.next.OnAccountUpdate(a) }

// Execute sends req as a command and returns the price of the reply, 0
// when the terminal answers with an empty result.
func (v *Venue) Execute(ctx context.Context, req broker.Request) (float64, error) {
	if v.conn == nil {
		return 0, ErrNotConnected
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	cmd, args := Command(req)
	res, err := v.conn.ExecuteCommand(ctx, cmd, args...)
	if err != nil {
		v.log.Warn().Err(err).Str("cmd", cmd).Str("symbol", req.Symbol).Msg("command failed")
		return 0, err
	}
	res = strings.TrimSpace(res)
	if res == "" {
		return 0, nil
	}
	px, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: bad reply %q: %w", cmd, res, err)
	}
	return px, nil
}

// Command renders req as a command name and key=value arguments.
func Command(req broker.Request) (string, []string) {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	args := []string{
		"symbol=" + req.Symbol,
		"type=" + req.Type.String(),
		"volume=" + f(req.Levels.Volume),
		"price=" + f(req.Levels.Price),
		"sl=" + f(req.Levels.StopLoss),
		"tp=" + f(req.Levels.TakeProfit),
	}
	if req.Levels.StopLimit != 0 {
		args = append(args, "stoplimit="+f(req.Levels.StopLimit))
	}
	if req.Deviation != 0 {
		args = append(args, "deviation="+strconv.Itoa(req.Deviation))
	}
	if req.OrderID != 0 {
		args = append(args, "order="+strconv.FormatInt(req.OrderID, 10))
	}
	if req.PositionID != 0 {
		args = append(args, "position="+strconv.FormatInt(req.PositionID, 10))
	}
	return strings.ToUpper(string(req.Action)), args
}
