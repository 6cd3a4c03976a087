package oanda

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rustyeddy/tradehost/connector"
	"github.com/rustyeddy/tradehost/market"
)

// PriceStream reads the account pricing stream as a connector.Source.
type PriceStream struct {
	c       *Client
	symbols []string
}

var _ connector.Source = (*PriceStream)(nil)

func (c *Client) PriceStream(symbols ...string) *PriceStream {
	return &PriceStream{c: c, symbols: symbols}
}

// Run pushes every PRICE message as a tick until ctx ends or the stream
// closes. Heartbeats and unknown messages are skipped.
func (s *PriceStream) Run(ctx context.Context, f connector.Feed) error {
	c := s.c
	if c.accountID == "" {
		return errors.New("oanda: missing account id")
	}
	if len(s.symbols) == 0 {
		return errors.New("oanda: no instruments")
	}
	insts := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		insts[i] = Instrument(sym)
	}

	q := url.Values{}
	q.Set("instruments", strings.Join(insts, ","))
	req, err := c.newRequest(ctx, c.streamURL, "/v3/accounts/"+c.accountID+"/pricing/stream", q)
	if err != nil {
		return err
	}
	// the stream outlives any client timeout
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("oanda pricing stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("oanda pricing stream: http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	c.log.Info().Strs("instruments", insts).Msg("pricing stream open")

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		t, ok, err := parsePrice(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("price dropped")
			continue
		}
		if ok {
			f.OnTick(t)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("oanda pricing stream: %w", err)
	}
	return io.EOF
}

// parsePrice decodes one stream line. ok is false for heartbeats and other
// non-price messages.
func parsePrice(line []byte) (market.Tick, bool, error) {
	if !gjson.ValidBytes(line) {
		return market.Tick{}, false, fmt.Errorf("bad json: %q", truncate(string(line)))
	}
	msg := gjson.ParseBytes(line)
	if msg.Get("type").String() != "PRICE" {
		return market.Tick{}, false, nil
	}
	inst := msg.Get("instrument").String()
	bid := msg.Get("bids.0.price")
	ask := msg.Get("asks.0.price")
	if inst == "" || !bid.Exists() || !ask.Exists() {
		return market.Tick{}, false, fmt.Errorf("incomplete price for %q", inst)
	}
	at, err := time.Parse(time.RFC3339Nano, msg.Get("time").String())
	if err != nil {
		return market.Tick{}, false, fmt.Errorf("price time: %w", err)
	}
	return market.Tick{
		Symbol: Symbol(inst),
		Time:   at.UTC(),
		Bid:    bid.Float(),
		Ask:    ask.Float(),
	}, true, nil
}

func truncate(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
