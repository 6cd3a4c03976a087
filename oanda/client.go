// Package oanda reads historical candles and streaming prices from the
// OANDA v20 REST API.
package oanda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/tradehost/market"
)

const (
	PracticeURL       = "https://api-fxpractice.oanda.com"
	LiveURL           = "https://api-fxtrade.oanda.com"
	PracticeStreamURL = "https://stream-fxpractice.oanda.com"
	LiveStreamURL     = "https://stream-fxtrade.oanda.com"
)

var (
	ErrMissingToken         = errors.New("oanda: missing token")
	ErrUnsupportedTimeFrame = errors.New("oanda: unsupported timeframe")
)

type Client struct {
	baseURL   string
	streamURL string
	token     string
	accountID string
	price     PriceComponent
	http      *http.Client
	log       zerolog.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option          { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }
func WithStreamURL(u string) Option        { return func(c *Client) { c.streamURL = strings.TrimRight(u, "/") } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithAccount(id string) Option         { return func(c *Client) { c.accountID = id } }
func WithLogger(l zerolog.Logger) Option   { return func(c *Client) { c.log = l } }

// WithPrice selects the candle component FetchBars reads. Default BA,
// which also yields the recorded spread.
func WithPrice(p PriceComponent) Option { return func(c *Client) { c.price = p } }

func NewClient(token string, practice bool, opts ...Option) *Client {
	c := &Client{
		baseURL:   LiveURL,
		streamURL: LiveStreamURL,
		token:     token,
		price:     BidAsk,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       zerolog.Nop(),
	}
	if practice {
		c.baseURL = PracticeURL
		c.streamURL = PracticeStreamURL
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Environment returns practice for "practice" or "demo" and false for
// "live" or "trade".
func Environment(env string) (practice bool, err error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo", "":
		return true, nil
	case "live", "trade":
		return false, nil
	default:
		return false, fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Instrument maps a symbol to its OANDA name: EURUSD becomes EUR_USD.
func Instrument(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	if m, ok := market.Instruments[symbol]; ok && m.BaseCurrency != "" {
		return m.BaseCurrency + "_" + m.QuoteCurrency
	}
	if len(symbol) == 6 {
		return symbol[:3] + "_" + symbol[3:]
	}
	return symbol
}

// Symbol is the inverse of Instrument.
func Symbol(instrument string) string { return strings.ReplaceAll(instrument, "_", "") }

// Granularity maps tf to an OANDA candle granularity.
func Granularity(tf market.TimeFrame) (string, error) {
	switch tf {
	case market.M1, market.M2, market.M4, market.M5, market.M10, market.M15, market.M30,
		market.H1, market.H2, market.H3, market.H4, market.H6, market.H8, market.H12:
		return tf.String(), nil
	case market.D1:
		return "D", nil
	case market.W1:
		return "W", nil
	case market.MN1:
		return "M", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedTimeFrame, tf)
}

func (c *Client) newRequest(ctx context.Context, base, path string, q url.Values) (*http.Request, error) {
	if c.token == "" {
		return nil, ErrMissingToken
	}
	u := base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	return req, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, c.baseURL, path, q)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("oanda %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("oanda %s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("oanda %s: read: %w", path, err)
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("oanda %s: decode: %w", path, err)
	}
	return nil
}
