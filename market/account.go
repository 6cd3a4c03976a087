package market

import "time"

// Account is an immutable snapshot. Holders replace it wholesale.
//
// Margin is the allowance new orders are checked against. MarginUsed is
// what open positions currently hold.
type Account struct {
	Time       time.Time
	Currency   string
	Leverage   int
	Balance    float64
	Equity     float64
	Margin     float64
	MarginFree float64
	MarginUsed float64
	Profit     float64
}

// MarginLevel is equity over used margin, 0 when nothing is used.
func (a Account) MarginLevel() float64 {
	if a.MarginUsed <= 0 {
		return 0
	}
	return a.Equity / a.MarginUsed
}
