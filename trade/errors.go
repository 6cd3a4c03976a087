package trade

import (
	"errors"
	"fmt"
)

// Reason classifies why a trade request failed.
type Reason int

const (
	ReasonReject Reason = iota + 1
	ReasonError
	ReasonTimeout
	ReasonInvalid
	ReasonInvalidVolume
	ReasonInvalidPrice
	ReasonInvalidStops
	ReasonTradeDisabled
	ReasonMarketClosed
	ReasonNoMoney
	ReasonPriceChanged
	ReasonPriceOff
	ReasonOrderChanged
	ReasonTooManyRequests
	ReasonNoChanges
	ReasonLocked
	ReasonFrozen
	ReasonInvalidFill
	ReasonConnection
	ReasonLimitOrders
	ReasonLimitVolume
	ReasonInvalidOrder
	ReasonPositionClosed
	ReasonInvalidCloseVolume
	ReasonLimitPositions
	ReasonRejectCancel
	ReasonLongOnly
	ReasonShortOnly
	ReasonCloseOnly
)

var reasonNames = map[Reason]string{
	ReasonReject:             "REJECT",
	ReasonError:              "ERROR",
	ReasonTimeout:            "TIMEOUT",
	ReasonInvalid:            "INVALID",
	ReasonInvalidVolume:      "INVALID_VOLUME",
	ReasonInvalidPrice:       "INVALID_PRICE",
	ReasonInvalidStops:       "INVALID_STOPS",
	ReasonTradeDisabled:      "TRADE_DISABLED",
	ReasonMarketClosed:       "MARKET_CLOSED",
	ReasonNoMoney:            "NO_MONEY",
	ReasonPriceChanged:       "PRICE_CHANGED",
	ReasonPriceOff:           "PRICE_OFF",
	ReasonOrderChanged:       "ORDER_CHANGED",
	ReasonTooManyRequests:    "TOO_MANY_REQUESTS",
	ReasonNoChanges:          "NO_CHANGES",
	ReasonLocked:             "LOCKED",
	ReasonFrozen:             "FROZEN",
	ReasonInvalidFill:        "INVALID_FILL",
	ReasonConnection:         "CONNECTION",
	ReasonLimitOrders:        "LIMIT_ORDERS",
	ReasonLimitVolume:        "LIMIT_VOLUME",
	ReasonInvalidOrder:       "INVALID_ORDER",
	ReasonPositionClosed:     "POSITION_CLOSED",
	ReasonInvalidCloseVolume: "INVALID_CLOSE_VOLUME",
	ReasonLimitPositions:     "LIMIT_POSITIONS",
	ReasonRejectCancel:       "REJECT_CANCEL",
	ReasonLongOnly:           "LONG_ONLY",
	ReasonShortOnly:          "SHORT_ONLY",
	ReasonCloseOnly:          "CLOSE_ONLY",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// ParseReason is the inverse of String.
func ParseReason(s string) (Reason, bool) {
	for r, name := range reasonNames {
		if name == s {
			return r, true
		}
	}
	return 0, false
}

// Sentinels, one per reason, for errors.Is.
var (
	ErrReject             = &Error{Reason: ReasonReject}
	ErrError              = &Error{Reason: ReasonError}
	ErrTimeout            = &Error{Reason: ReasonTimeout}
	ErrInvalid            = &Error{Reason: ReasonInvalid}
	ErrInvalidVolume      = &Error{Reason: ReasonInvalidVolume}
	ErrInvalidPrice       = &Error{Reason: ReasonInvalidPrice}
	ErrInvalidStops       = &Error{Reason: ReasonInvalidStops}
	ErrTradeDisabled      = &Error{Reason: ReasonTradeDisabled}
	ErrMarketClosed       = &Error{Reason: ReasonMarketClosed}
	ErrNoMoney            = &Error{Reason: ReasonNoMoney}
	ErrPriceChanged       = &Error{Reason: ReasonPriceChanged}
	ErrPriceOff           = &Error{Reason: ReasonPriceOff}
	ErrOrderChanged       = &Error{Reason: ReasonOrderChanged}
	ErrTooManyRequests    = &Error{Reason: ReasonTooManyRequests}
	ErrNoChanges          = &Error{Reason: ReasonNoChanges}
	ErrLocked             = &Error{Reason: ReasonLocked}
	ErrFrozen             = &Error{Reason: ReasonFrozen}
	ErrInvalidFill        = &Error{Reason: ReasonInvalidFill}
	ErrConnection         = &Error{Reason: ReasonConnection}
	ErrLimitOrders        = &Error{Reason: ReasonLimitOrders}
	ErrLimitVolume        = &Error{Reason: ReasonLimitVolume}
	ErrInvalidOrder       = &Error{Reason: ReasonInvalidOrder}
	ErrPositionClosed     = &Error{Reason: ReasonPositionClosed}
	ErrInvalidCloseVolume = &Error{Reason: ReasonInvalidCloseVolume}
	ErrLimitPositions     = &Error{Reason: ReasonLimitPositions}
	ErrRejectCancel       = &Error{Reason: ReasonRejectCancel}
	ErrLongOnly           = &Error{Reason: ReasonLongOnly}
	ErrShortOnly          = &Error{Reason: ReasonShortOnly}
	ErrCloseOnly          = &Error{Reason: ReasonCloseOnly}
)

// Error is returned by every trading operation that refuses a request.
type Error struct {
	Reason Reason
	Op     string
	Symbol string
	Err    error
}

func Errorf(r Reason, op, symbol, format string, args ...any) *Error {
	return &Error{Reason: r, Op: op, Symbol: symbol, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Reason.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Symbol != "" {
		msg += " [" + e.Symbol + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf extracts the reason from err, or 0 when err is not a trade error.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return 0
}
