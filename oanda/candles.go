package oanda

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/rustyeddy/tradehost/market"
)

type PriceComponent string

const (
	MidPrice PriceComponent = "M"
	BidPrice PriceComponent = "B"
	AskPrice PriceComponent = "A"
	BidAsk   PriceComponent = "BA"
)

// MaxCount is the most candles one request may return.
const MaxCount = 5000

type CandlesRequest struct {
	Instrument  string
	Price       PriceComponent // default MidPrice
	Granularity string         // default S5
	Count       int            // exclusive with To
	From        time.Time
	To          time.Time
}

type ohlc struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

type apiCandle struct {
	Complete bool   `json:"complete"`
	Volume   int64  `json:"volume"`
	Time     string `json:"time"`
	Mid      *ohlc  `json:"mid,omitempty"`
	Bid      *ohlc  `json:"bid,omitempty"`
	Ask      *ohlc  `json:"ask,omitempty"`
}

type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// GetCandles fetches one page of complete candles. The returned rates carry
// symbol, timeframe and, for BidAsk, the bid prices with the close spread.
func (c *Client) GetCandles(ctx context.Context, req CandlesRequest) ([]market.Rate, error) {
	if req.Instrument == "" {
		return nil, fmt.Errorf("oanda: instrument is required")
	}
	if req.Price == "" {
		req.Price = MidPrice
	}
	if req.Granularity == "" {
		req.Granularity = "S5"
	}
	if req.Count > MaxCount {
		return nil, fmt.Errorf("oanda: count cannot exceed %d", MaxCount)
	}

	q := url.Values{}
	q.Set("price", string(req.Price))
	q.Set("granularity", req.Granularity)
	if req.Count > 0 {
		q.Set("count", strconv.Itoa(req.Count))
	}
	if !req.From.IsZero() {
		q.Set("from", req.From.UTC().Format(time.RFC3339))
	}
	if !req.To.IsZero() && req.Count == 0 {
		q.Set("to", req.To.UTC().Format(time.RFC3339))
	}

	var resp candlesResponse
	if err := c.get(ctx, "/v3/instruments/"+req.Instrument+"/candles", q, &resp); err != nil {
		return nil, err
	}

	tf, _ := parseGranularity(resp.Granularity)
	symbol := Symbol(req.Instrument)
	meta, known := market.Instruments[symbol]

	out := make([]market.Rate, 0, len(resp.Candles))
	for _, cd := range resp.Candles {
		if !cd.Complete {
			continue
		}
		r, err := toRate(cd, req.Price)
		if err != nil {
			return nil, fmt.Errorf("oanda %s %s: %w", req.Instrument, cd.Time, err)
		}
		r.Symbol = symbol
		r.TimeFrame = tf
		if req.Price == BidAsk && known && cd.Ask != nil {
			ask, _ := strconv.ParseFloat(cd.Ask.C, 64)
			r.Spread = int(math.Round((ask - r.Close) / meta.TickSize()))
		}
		out = append(out, r)
	}
	return out, nil
}

func toRate(cd apiCandle, price PriceComponent) (market.Rate, error) {
	t, err := time.Parse(time.RFC3339Nano, cd.Time)
	if err != nil {
		return market.Rate{}, fmt.Errorf("parse time: %w", err)
	}
	var p *ohlc
	switch price {
	case BidPrice, BidAsk:
		p = cd.Bid
	case AskPrice:
		p = cd.Ask
	default:
		p = cd.Mid
	}
	if p == nil {
		return market.Rate{}, fmt.Errorf("no %s prices", price)
	}

	var vals [4]float64
	for i, s := range []string{p.O, p.H, p.L, p.C} {
		if vals[i], err = strconv.ParseFloat(s, 64); err != nil {
			return market.Rate{}, fmt.Errorf("parse price %q: %w", s, err)
		}
	}
	return market.Rate{
		Time:       t.UTC(),
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		TickVolume: cd.Volume,
	}, nil
}

func parseGranularity(g string) (market.TimeFrame, error) {
	switch g {
	case "D":
		return market.D1, nil
	case "W":
		return market.W1, nil
	case "M":
		return market.MN1, nil
	}
	return market.ParseTimeFrame(g)
}

// FetchBars reads the complete bars of symbol in [start, end), paging
// through the candles endpoint.
func (c *Client) FetchBars(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error) {
	gran, err := Granularity(tf)
	if err != nil {
		return nil, err
	}
	inst := Instrument(symbol)

	var out []market.Rate
	cursor := start
	for cursor.Before(end) {
		page, err := c.GetCandles(ctx, CandlesRequest{
			Instrument:  inst,
			Price:       c.price,
			Granularity: gran,
			Count:       MaxCount,
			From:        cursor,
		})
		if err != nil {
			return out, err
		}
		next := cursor
		for _, r := range page {
			if !r.Time.Before(end) {
				next = end
				break
			}
			if r.Time.Before(cursor) {
				continue
			}
			r.Symbol, r.TimeFrame = symbol, tf
			out = append(out, r)
			next = r.Time.Add(tf.Duration())
		}
		if len(page) < MaxCount || !next.After(cursor) {
			break
		}
		cursor = next
	}
	c.log.Debug().Str("symbol", symbol).Str("timeframe", tf.String()).Int("bars", len(out)).Msg("candles fetched")
	return out, nil
}
