// Package dukascopy loads historical bars built from Dukascopy's hourly
// tick files (LZMA compressed .bi5).
package dukascopy

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/tradehost/connector"
	"github.com/rustyeddy/tradehost/market"
)

const DefaultURL = "https://datafeed.dukascopy.com/datafeed"

// A tick record is five big-endian 32 bit fields: milliseconds into the
// hour, ask and bid in points, ask and bid volume as float32.
const recordSize = 20

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrCorrupt       = errors.New("corrupt tick file")
)

type Option func(*Client)

func WithBaseURL(u string) Option          { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l zerolog.Logger) Option   { return func(c *Client) { c.log = l } }

// WithCache keeps downloaded hours under dir, laid out like the feed.
func WithCache(dir string) Option { return func(c *Client) { c.cache = dir } }

// WithWorkers sets how many hours download at once. Default 4.
func WithWorkers(n int) Option { return func(c *Client) { c.workers = max(n, 1) } }

// WithInstruments replaces the built-in registry used for price scaling.
func WithInstruments(m map[string]market.InstrumentMeta) Option {
	return func(c *Client) { c.metas = m }
}

type Client struct {
	base    string
	http    *http.Client
	cache   string
	workers int
	metas   map[string]market.InstrumentMeta
	log     zerolog.Logger
	now     func() time.Time
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		base:    DefaultURL,
		http:    &http.Client{Timeout: 45 * time.Second},
		workers: 4,
		metas:   market.Defaults(),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TickURL is the feed address of the hour starting at t. Months count
// from zero.
func TickURL(base, symbol string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(base, "/"), symbol, t.Year(), int(t.Month())-1, t.Day(), t.Hour())
}

// FetchBars builds bid bars of tf with open times in [start, end) from the
// ticks of every hour they span. Hours without ticks yield no bars.
func (c *Client) FetchBars(ctx context.Context, symbol string, tf market.TimeFrame, start, end time.Time) ([]market.Rate, error) {
	if _, ok := c.metas[symbol]; !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	if tf.Duration() <= 0 || !end.After(start) {
		return nil, nil
	}
	from := tf.Align(start).Truncate(time.Hour)
	to := tf.Align(end.Add(-time.Nanosecond)).Add(tf.Duration())
	if now := c.now().UTC().Truncate(time.Hour); to.After(now) {
		to = now
	}

	var hours []time.Time
	for h := from; h.Before(to); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}
	ticks := make([][]market.Tick, len(hours))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, h := range hours {
		g.Go(func() error {
			var err error
			ticks[i], err = c.Ticks(gctx, symbol, h)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var bars collector
	agg := connector.NewBars(tf, &bars)
	for _, hour := range ticks {
		for _, t := range hour {
			agg.OnTick(t)
		}
	}
	agg.Flush()

	out := bars[:0]
	for _, r := range bars {
		if !r.Time.Before(start) && r.Time.Before(end) {
			out = append(out, r)
		}
	}
	c.log.Debug().Str("symbol", symbol).Str("tf", tf.String()).Int("hours", len(hours)).Int("bars", len(out)).Msg("bars built")
	return out, nil
}

// Ticks returns the ticks of the hour starting at hour, oldest first.
func (c *Client) Ticks(ctx context.Context, symbol string, hour time.Time) ([]market.Tick, error) {
	meta, ok := c.metas[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	hour = hour.UTC().Truncate(time.Hour)
	raw, err := c.hour(ctx, symbol, hour)
	if err != nil {
		return nil, err
	}
	ticks, err := Decode(raw, symbol, hour, meta.Digits)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, hour.Format(time.RFC3339), err)
	}
	return ticks, nil
}

// Decode expands one .bi5 file. An empty file holds no ticks.
func Decode(bi5 []byte, symbol string, hour time.Time, digits int) ([]market.Tick, error) {
	if len(bi5) == 0 {
		return nil, nil
	}
	r, err := lzma.NewReader(bytes.NewReader(bi5))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}

	exp := int32(-digits)
	out := make([]market.Tick, 0, len(data)/recordSize)
	for off := 0; off < len(data); off += recordSize {
		rec := data[off : off+recordSize]
		ms := binary.BigEndian.Uint32(rec[0:])
		ask := decimal.New(int64(binary.BigEndian.Uint32(rec[4:])), exp).InexactFloat64()
		bid := decimal.New(int64(binary.BigEndian.Uint32(rec[8:])), exp).InexactFloat64()
		askVol := float32frombits(rec[12:])
		bidVol := float32frombits(rec[16:])
		out = append(out, market.Tick{
			Symbol: symbol,
			Time:   hour.Add(time.Duration(ms) * time.Millisecond),
			Bid:    bid,
			Ask:    ask,
			Volume: float64(askVol + bidVol),
		})
	}
	return out, nil
}

// hour returns the compressed file of one hour, nil when the feed has none.
func (c *Client) hour(ctx context.Context, symbol string, hour time.Time) ([]byte, error) {
	var path string
	if c.cache != "" {
		path = filepath.Join(c.cache, symbol,
			fmt.Sprintf("%04d", hour.Year()), fmt.Sprintf("%02d", hour.Month()), fmt.Sprintf("%02d", hour.Day()),
			fmt.Sprintf("%02dh_ticks.bi5", hour.Hour()))
		if b, err := os.ReadFile(path); err == nil {
			return b, nil
		}
	}

	url := TickURL(c.base, symbol, hour)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "tradehost")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug().Str("url", url).Msg("no ticks")
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dukascopy %s: http %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := store(path, body); err != nil {
			c.log.Warn().Err(err).Str("file", path).Msg("cache write")
		}
	}
	return body, nil
}

// store writes b to path through a temporary file.
func store(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func float32frombits(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

type collector []market.Rate

func (c *collector) OnTick(market.Tick)             {}
func (c *collector) OnRate(r market.Rate)           { *c = append(*c, r) }
func (c *collector) OnAccountUpdate(market.Account) {}
