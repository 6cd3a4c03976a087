package connector

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/rustyeddy/tradehost/market"
)

// Frame types exchanged with the terminal bridge. Market frames carry one
// line codec record in data.
const (
	FrameTick      = "tick"
	FrameRate      = "rate"
	FrameAccount   = "account"
	FrameCommand   = "command"
	FrameResponse  = "response"
	FrameError     = "error"
	FrameHeartbeat = "heartbeat"
)

type command struct {
	Type string   `json:"type"`
	ID   string   `json:"id"`
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
}

type reply struct {
	result string
	err    error
}

type WSOption func(*WS)

func WithWSLogger(l zerolog.Logger) WSOption { return func(c *WS) { c.log = l } }
func WithHeader(h http.Header) WSOption      { return func(c *WS) { c.header = h } }

// WithTimeouts sets the read deadline, refreshed by any frame or pong, the
// write deadline and the ping interval.
func WithTimeouts(read, write, ping time.Duration) WSOption {
	return func(c *WS) { c.readTimeout, c.writeTimeout, c.pingInterval = read, write, ping }
}

// WithReconnect retries a dropped connection with exponential backoff
// between min and max. Without it Run returns on the first failure.
func WithReconnect(min, max time.Duration) WSOption {
	return func(c *WS) { c.backoffMin, c.backoffMax = min, max }
}

// WS talks to a terminal bridge over a websocket. Market frames are pushed
// into the Feed given to Run; commands are correlated with their replies
// by id.
type WS struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    zerolog.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	backoffMin   time.Duration
	backoffMax   time.Duration

	send chan []byte

	mu        sync.Mutex
	pending   map[string]chan reply
	connected chan struct{}
	closed    bool
}

var _ Connector = (*WS)(nil)

func NewWS(url string, opts ...WSOption) *WS {
	c := &WS{
		url:          url,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:          zerolog.Nop(),
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		pingInterval: 20 * time.Second,
		send:         make(chan []byte, 256),
		pending:      make(map[string]chan reply),
		connected:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run connects and pumps frames until ctx is done. With reconnect enabled
// a dropped connection is dialed again; pending commands fail with
// ErrNotConnected.
func (c *WS) Run(ctx context.Context, f Feed) error {
	defer c.shutdown()

	backoff := c.backoffMin
	for {
		err := c.session(ctx, f)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.backoffMin <= 0 {
			return err
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("connection lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, c.backoffMax)
	}
}

func (c *WS) session(ctx context.Context, f Feed) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.log.Info().Str("url", c.url).Msg("connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.setConnected(true)
	defer c.setConnected(false)

	errc := make(chan error, 1)
	go func() { errc <- c.writePump(ctx, conn) }()

	err = c.readPump(ctx, conn, f)
	cancel()
	conn.Close()
	if werr := <-errc; err == nil {
		err = werr
	}
	return err
}

func (c *WS) readPump(ctx context.Context, conn *websocket.Conn, f Feed) error {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		c.dispatch(msg, f)
	}
}

func (c *WS) writePump(ctx context.Context, conn *websocket.Conn) error {
	ping := time.NewTicker(c.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// dispatch decodes one frame. Malformed frames are logged and dropped.
func (c *WS) dispatch(msg []byte, f Feed) {
	if !gjson.ValidBytes(msg) {
		c.log.Warn().Bytes("frame", truncate(msg)).Msg("invalid frame dropped")
		return
	}
	frame := gjson.ParseBytes(msg)
	data := frame.Get("data").String()

	switch typ := frame.Get("type").String(); typ {
	case FrameTick:
		t, err := market.ParseTick(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("tick dropped")
			return
		}
		f.OnTick(t)
	case FrameRate:
		r, err := market.ParseRate(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("rate dropped")
			return
		}
		f.OnRate(r)
	case FrameAccount:
		a, err := market.ParseAccount(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("account dropped")
			return
		}
		f.OnAccountUpdate(a)
	case FrameResponse, FrameError:
		id := frame.Get("id").String()
		r := reply{result: frame.Get("result").String()}
		if typ == FrameError {
			r.err = fmt.Errorf("%w: %s", ErrRemote, frame.Get("error").String())
		}
		c.resolve(id, r)
	case FrameHeartbeat:
	default:
		c.log.Debug().Str("type", typ).Msg("unknown frame ignored")
	}
}

// ExecuteCommand sends cmd and waits for its reply, ctx expiry or loss of
// the connection.
func (c *WS) ExecuteCommand(ctx context.Context, cmd string, args ...string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	connected := c.connected
	c.mu.Unlock()

	select {
	case <-connected:
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w: %w", cmd, ErrNotConnected, ctx.Err())
	}

	id := uuid.NewString()
	msg, err := sonic.Marshal(command{Type: FrameCommand, ID: id, Cmd: cmd, Args: args})
	if err != nil {
		return "", err
	}
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer c.forget(id)

	select {
	case c.send <- msg:
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", cmd, ctx.Err())
	}
	c.log.Debug().Str("id", id).Str("cmd", cmd).Strs("args", args).Msg("command sent")

	select {
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("%s: %w", cmd, r.err)
		}
		return r.result, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", cmd, ctx.Err())
	}
}

func (c *WS) resolve(id string, r reply) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.log.Debug().Str("id", id).Msg("reply without request")
		return
	}
	ch <- r
}

func (c *WS) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// setConnected opens or resets the gate ExecuteCommand waits on. Losing
// the connection fails every pending command.
func (c *WS) setConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if up {
		close(c.connected)
		return
	}
	c.connected = make(chan struct{})
	for id, ch := range c.pending {
		ch <- reply{err: ErrNotConnected}
		delete(c.pending, id)
	}
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func (c *WS) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- reply{err: ErrClosed}
		delete(c.pending, id)
	}
}

func truncate(b []byte) []byte {
	if len(b) > 200 {
		return b[:200]
	}
	return b
}
