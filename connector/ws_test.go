package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/rustyeddy/tradehost/market"
)

type recordingFeed struct {
	mu       sync.Mutex
	ticks    []market.Tick
	rates    []market.Rate
	accounts []market.Account
}

func (f *recordingFeed) OnTick(t market.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, t)
}

func (f *recordingFeed) OnRate(r market.Rate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = append(f.rates, r)
}

func (f *recordingFeed) OnAccountUpdate(a market.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, a)
}

func (f *recordingFeed) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks), len(f.rates), len(f.accounts)
}

// bridge is a fake terminal: it pushes frames on connect and answers
// commands through reply, which returns the frame to send back or "".
func bridge(t *testing.T, push []string, reply func(cmd string, args []string, id string) string) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range push {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			cmd := gjson.GetBytes(msg, "cmd").String()
			id := gjson.GetBytes(msg, "id").String()
			var args []string
			for _, a := range gjson.GetBytes(msg, "args").Array() {
				args = append(args, a.String())
			}
			if out := reply(cmd, args, id); out != "" {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(out)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func start(t *testing.T, c *WS, f Feed) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, f) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestWSFeed(t *testing.T) {
	t.Parallel()

	url := bridge(t, []string{
		`{"type":"tick","data":"EURUSD 1709550000000 1.1 1.1002 0 0"}`,
		`{"type":"heartbeat"}`,
		`{"type":"tick","data":"EURUSD nope"}`,
		`not json`,
		`{"type":"rate","data":"EURUSD 1709550000 1.1 1.101 1.099 1.1005 42 0 10 60"}`,
		`{"type":"account","data":"1709550000 USD 100 10000 10010 9000 9000 10"}`,
	}, func(string, []string, string) string { return "" })

	f := &recordingFeed{}
	c := NewWS(url)
	_, _ = start(t, c, f)

	require.Eventually(t, func() bool {
		n, r, a := f.counts()
		return n == 1 && r == 1 && a == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "EURUSD", f.ticks[0].Symbol)
	assert.Equal(t, 1.1002, f.ticks[0].Ask)
	assert.Equal(t, market.M1, f.rates[0].TimeFrame)
	assert.Equal(t, "USD", f.accounts[0].Currency)
}

func TestWSExecuteCommand(t *testing.T) {
	t.Parallel()

	url := bridge(t, nil, func(cmd string, args []string, id string) string {
		switch cmd {
		case "OPEN":
			return `{"type":"response","id":"` + id + `","result":"1.2003"}`
		case "REMOVE":
			return `{"type":"error","id":"` + id + `","error":"order not found"}`
		}
		return ""
	})

	c := NewWS(url)
	cancel, done := start(t, c, &recordingFeed{})

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	res, err := c.ExecuteCommand(ctx, "OPEN", "symbol=EURUSD", "volume=0.1")
	require.NoError(t, err)
	assert.Equal(t, "1.2003", res)

	_, err = c.ExecuteCommand(ctx, "REMOVE", "order=7")
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorContains(t, err, "order not found")

	short, stopShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stopShort()
	_, err = c.ExecuteCommand(short, "SILENT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	_, err = c.ExecuteCommand(ctx, "OPEN")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWSNotConnected(t *testing.T) {
	t.Parallel()

	c := NewWS("ws://127.0.0.1:1/none")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.ExecuteCommand(ctx, "OPEN")
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Run(context.Background(), &recordingFeed{})
	assert.Error(t, err, "dial fails without reconnect")
}
