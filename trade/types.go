// Package trade holds the order, deal and position model shared by every
// broker implementation, and the typed errors the trading API returns.
package trade

import "fmt"

type Direction int8

const (
	Buy  Direction = 1
	Sell Direction = -1
)

func (d Direction) String() string {
	if d == Buy {
		return "BUY"
	}
	return "SELL"
}

func (d Direction) Opposite() Direction { return -d }

type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderBuyLimit
	OrderSellLimit
	OrderBuyStop
	OrderSellStop
	OrderBuyStopLimit
	OrderSellStopLimit
)

// Anchor is the market side a price rule is measured against.
type Anchor int

const (
	AnchorAsk Anchor = iota
	AnchorBid
)

// Rule describes an order type as data. Pending placement, trigger and
// freeze checks are all driven by it.
type Rule struct {
	Name      string
	Direction Direction
	Pending   bool
	// Above is true when the trigger price must sit above the anchor
	// (buy stops, sell limits) and false when it must sit below.
	Above  bool
	Anchor Anchor
	// Then is the type a stop-limit order turns into once its stop
	// price trades.
	Then OrderType
}

var rules = [...]Rule{
	OrderBuy:           {Name: "BUY", Direction: Buy, Anchor: AnchorAsk},
	OrderSell:          {Name: "SELL", Direction: Sell, Anchor: AnchorBid},
	OrderBuyLimit:      {Name: "BUY_LIMIT", Direction: Buy, Pending: true, Above: false, Anchor: AnchorAsk},
	OrderSellLimit:     {Name: "SELL_LIMIT", Direction: Sell, Pending: true, Above: true, Anchor: AnchorBid},
	OrderBuyStop:       {Name: "BUY_STOP", Direction: Buy, Pending: true, Above: true, Anchor: AnchorAsk},
	OrderSellStop:      {Name: "SELL_STOP", Direction: Sell, Pending: true, Above: false, Anchor: AnchorBid},
	OrderBuyStopLimit:  {Name: "BUY_STOP_LIMIT", Direction: Buy, Pending: true, Above: true, Anchor: AnchorAsk, Then: OrderBuyLimit},
	OrderSellStopLimit: {Name: "SELL_STOP_LIMIT", Direction: Sell, Pending: true, Above: false, Anchor: AnchorBid, Then: OrderSellLimit},
}

func (t OrderType) valid() bool { return t >= 0 && int(t) < len(rules) }

func (t OrderType) Rule() Rule {
	if !t.valid() {
		return Rule{}
	}
	return rules[t]
}

func (t OrderType) String() string {
	if !t.valid() {
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
	return rules[t].Name
}

func (t OrderType) IsBuy() bool     { return t.Rule().Direction == Buy }
func (t OrderType) IsPending() bool { return t.Rule().Pending }
func (t OrderType) IsStopLimit() bool {
	return t == OrderBuyStopLimit || t == OrderSellStopLimit
}

// MarketType is the market order a pending order becomes when filled.
func (t OrderType) MarketType() OrderType {
	if t.IsBuy() {
		return OrderBuy
	}
	return OrderSell
}

// CloseAnchor is the side a position opened by this type is closed on.
func (r Rule) CloseAnchor() Anchor {
	if r.Anchor == AnchorAsk {
		return AnchorBid
	}
	return AnchorAsk
}

type OrderState int

const (
	StateStarted OrderState = iota
	StatePlaced
	StateCanceled
	StatePartial
	StateFilled
	StateRejected
	StateExpired
	StateRequestAdd
	StateRequestModify
	StateRequestCancel
)

var stateNames = [...]string{
	"STARTED", "PLACED", "CANCELED", "PARTIAL", "FILLED",
	"REJECTED", "EXPIRED", "REQUEST_ADD", "REQUEST_MODIFY", "REQUEST_CANCEL",
}

func (s OrderState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("OrderState(%d)", int(s))
	}
	return stateNames[s]
}

func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return true
	}
	return false
}

// InFlight states belong to a live connector waiting on the terminal.
func (s OrderState) InFlight() bool {
	switch s {
	case StateRequestAdd, StateRequestModify, StateRequestCancel:
		return true
	}
	return false
}

type Filling int

const (
	FillFOK Filling = iota
	FillIOC
	FillReturn
)

func (f Filling) String() string {
	switch f {
	case FillFOK:
		return "FOK"
	case FillIOC:
		return "IOC"
	case FillReturn:
		return "RETURN"
	}
	return fmt.Sprintf("Filling(%d)", int(f))
}

type DealType int

const (
	DealBuy DealType = iota
	DealSell
	DealBalance
	DealCredit
	DealCharge
	DealCorrection
	DealBonus
	DealCommission
)

var dealTypeNames = [...]string{"BUY", "SELL", "BALANCE", "CREDIT", "CHARGE", "CORRECTION", "BONUS", "COMMISSION"}

func (t DealType) String() string {
	if t < 0 || int(t) >= len(dealTypeNames) {
		return fmt.Sprintf("DealType(%d)", int(t))
	}
	return dealTypeNames[t]
}

type DealEntry int

const (
	EntryIn DealEntry = iota
	EntryOut
	EntryInOut
	EntryOutBy
)

func (e DealEntry) String() string {
	switch e {
	case EntryIn:
		return "IN"
	case EntryOut:
		return "OUT"
	case EntryInOut:
		return "INOUT"
	case EntryOutBy:
		return "OUT_BY"
	}
	return fmt.Sprintf("DealEntry(%d)", int(e))
}
