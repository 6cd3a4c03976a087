package market

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Line formats spoken by the terminal bridge, one record per line,
// fields separated by whitespace:
//
//	tick:    SYMBOL TIME_MILLIS BID ASK LAST VOLUME
//	rate:    SYMBOL TIME_SECONDS OPEN HIGH LOW CLOSE TICK_VOLUME REAL_VOLUME SPREAD TIMEFRAME_SECONDS
//	account: TIME_SECONDS CURRENCY LEVERAGE BALANCE EQUITY MARGIN MARGIN_FREE PROFIT

var ErrMalformed = errors.New("malformed record")

func ParseTick(line string) (Tick, error) {
	f := strings.Fields(line)
	if len(f) != 6 {
		return Tick{}, fmt.Errorf("%w: tick wants 6 fields, got %d", ErrMalformed, len(f))
	}
	p := fieldParser{fields: f}
	ms := p.i64(1)
	t := Tick{
		Symbol: f[0],
		Time:   time.UnixMilli(ms).UTC(),
		Bid:    p.f64(2),
		Ask:    p.f64(3),
		Last:   p.f64(4),
		Volume: p.f64(5),
	}
	if p.err != nil {
		return Tick{}, fmt.Errorf("tick %q: %w", line, p.err)
	}
	return t, nil
}

func FormatTick(t Tick) string {
	return strings.Join([]string{
		t.Symbol,
		strconv.FormatInt(t.Time.UnixMilli(), 10),
		ff(t.Bid), ff(t.Ask), ff(t.Last), ff(t.Volume),
	}, " ")
}

func ParseRate(line string) (Rate, error) {
	f := strings.Fields(line)
	if len(f) != 10 {
		return Rate{}, fmt.Errorf("%w: rate wants 10 fields, got %d", ErrMalformed, len(f))
	}
	p := fieldParser{fields: f}
	r := Rate{
		Symbol:     f[0],
		Time:       time.Unix(p.i64(1), 0).UTC(),
		Open:       p.f64(2),
		High:       p.f64(3),
		Low:        p.f64(4),
		Close:      p.f64(5),
		TickVolume: p.i64(6),
		RealVolume: p.i64(7),
		Spread:     int(p.i64(8)),
		Meta:       NewMetadata(),
	}
	sec := p.i64(9)
	if p.err != nil {
		return Rate{}, fmt.Errorf("rate %q: %w", line, p.err)
	}
	tf, err := TimeFrameOf(int32(sec))
	if err != nil {
		return Rate{}, fmt.Errorf("rate %q: %w", line, err)
	}
	r.TimeFrame = tf
	return r, nil
}

func FormatRate(r Rate) string {
	return strings.Join([]string{
		r.Symbol,
		strconv.FormatInt(r.Time.Unix(), 10),
		ff(r.Open), ff(r.High), ff(r.Low), ff(r.Close),
		strconv.FormatInt(r.TickVolume, 10),
		strconv.FormatInt(r.RealVolume, 10),
		strconv.Itoa(r.Spread),
		strconv.Itoa(int(r.TimeFrame)),
	}, " ")
}

func ParseAccount(line string) (Account, error) {
	f := strings.Fields(line)
	if len(f) != 8 {
		return Account{}, fmt.Errorf("%w: account wants 8 fields, got %d", ErrMalformed, len(f))
	}
	p := fieldParser{fields: f}
	a := Account{
		Time:       time.Unix(p.i64(0), 0).UTC(),
		Currency:   f[1],
		Leverage:   int(p.i64(2)),
		Balance:    p.f64(3),
		Equity:     p.f64(4),
		Margin:     p.f64(5),
		MarginFree: p.f64(6),
		Profit:     p.f64(7),
	}
	if p.err != nil {
		return Account{}, fmt.Errorf("account %q: %w", line, p.err)
	}
	return a, nil
}

func FormatAccount(a Account) string {
	return strings.Join([]string{
		strconv.FormatInt(a.Time.Unix(), 10),
		a.Currency,
		strconv.Itoa(a.Leverage),
		ff(a.Balance), ff(a.Equity), ff(a.Margin), ff(a.MarginFree), ff(a.Profit),
	}, " ")
}

// fieldParser keeps the first conversion error so callers check once.
type fieldParser struct {
	fields []string
	err    error
}

func (p *fieldParser) f64(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.fields[i], 64)
	if err != nil {
		p.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
	}
	return v
}

func (p *fieldParser) i64(i int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.fields[i], 10, 64)
	if err != nil {
		p.err = fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
	}
	return v
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
