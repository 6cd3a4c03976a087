package trade

import "time"

// Deal is one fill. Deals are append-only.
type Deal struct {
	ID         int64
	OrderID    int64
	PositionID int64
	Symbol     string
	Time       time.Time
	Type       DealType
	Entry      DealEntry
	Price      float64
	Volume     float64
	Commission float64
	Swap       float64
	Profit     float64
}

// Signed is the deal volume with buys positive and sells negative.
func (d Deal) Signed() float64 {
	switch d.Type {
	case DealBuy:
		return d.Volume
	case DealSell:
		return -d.Volume
	}
	return 0
}

func DealTypeOf(dir Direction) DealType {
	if dir == Buy {
		return DealBuy
	}
	return DealSell
}
