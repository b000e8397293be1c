// File: internal/feed/client.go
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"candlecast/internal/candle"
)

var (
	ErrRetriesExhausted = errors.New("feed: reconnect attempts exhausted")
	ErrClosed           = errors.New("feed: client closed")
)

// ServerError is an error frame pushed by the server.
type ServerError struct{ Msg string }

func (e *ServerError) Error() string { return "feed: server error: " + e.Msg }

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

type EventKind int

const (
	EventState EventKind = iota
	EventSnapshot
	EventUpdate
	EventServerError
	EventTerminal
)

// Event is emitted on the Events channel. For EventSnapshot and
// EventUpdate, Candles holds a copy of the whole cache after the change.
type Event struct {
	Kind    EventKind
	State   State
	Candles []candle.Candle
	Err     error
}

// Message mirrors the server's realtime envelope.
type Message struct {
	Type  string          `json:"type"`
	Data  []candle.Candle `json:"data"`
	Error string          `json:"error,omitempty"`
}

type Options struct {
	// BaseURL is the HTTP origin, e.g. http://localhost:3000.
	BaseURL string
	// WSURL defaults to BaseURL with ws(s) scheme and /ws path.
	WSURL string

	Cap               int
	ReconnectDelay    time.Duration
	MaxRetries        int
	KeepaliveInterval time.Duration
	FetchAttempts     int
	FetchBackoff      time.Duration

	HTTPClient *http.Client
	Dialer     Dialer
	Logger     zerolog.Logger
}

// Client keeps a local candle cache fed by one snapshot fetch and a
// realtime connection that reconnects with a fixed delay.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	cache    *candle.Series
	state    State
	attempts int

	events chan Event

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func New(opts Options) *Client {
	if opts.Cap <= 0 {
		opts.Cap = candle.DefaultCap
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.FetchAttempts <= 0 {
		opts.FetchAttempts = 3
	}
	if opts.FetchBackoff <= 0 {
		opts.FetchBackoff = 500 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWSDialer()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.WSURL == "" {
		opts.WSURL = wsURLFor(opts.BaseURL)
	}
	return &Client{
		opts:   opts,
		log:    opts.Logger,
		cache:  candle.NewSeries(opts.Cap),
		events: make(chan Event, 64),
	}
}

func wsURLFor(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

// Events delivers state changes and cache updates. Slow consumers miss
// events rather than stall the connection.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of reconnects since the last successful connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Snapshot returns a copy of the cache in ascending order.
func (c *Client) Snapshot() []candle.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Candles()
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Debug().Int("kind", int(ev.Kind)).Msg("event dropped, consumer too slow")
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.log.Debug().Str("state", s.String()).Msg("state change")
		c.emit(Event{Kind: EventState, State: s})
	}
}

// HandleMessage applies one realtime frame to the cache.
func (c *Client) HandleMessage(msg Message) {
	switch msg.Type {
	case "initial":
		c.mu.Lock()
		c.cache.Replace(msg.Data)
		snap := c.cache.Candles()
		c.mu.Unlock()
		c.emit(Event{Kind: EventSnapshot, Candles: snap})
	case "update":
		c.mu.Lock()
		added := c.cache.Merge(msg.Data)
		snap := c.cache.Candles()
		c.mu.Unlock()
		if added > 0 {
			c.emit(Event{Kind: EventUpdate, Candles: snap})
		}
	case "error":
		c.log.Warn().Str("error", msg.Error).Msg("server reported error")
		c.emit(Event{Kind: EventServerError, Err: &ServerError{Msg: msg.Error}})
	default:
		c.log.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

// FetchInitial GETs the snapshot endpoint, retrying with exponential
// backoff, and seeds the cache if it is still empty.
func (c *Client) FetchInitial(ctx context.Context) ([]candle.Candle, error) {
	backoff := c.opts.FetchBackoff
	var lastErr error
	for attempt := 1; attempt <= c.opts.FetchAttempts; attempt++ {
		data, err := c.fetchOnce(ctx)
		if err == nil {
			c.mu.Lock()
			seeded := c.cache.Len() == 0
			if seeded {
				c.cache.Replace(data)
			}
			snap := c.cache.Candles()
			c.mu.Unlock()
			if seeded {
				c.emit(Event{Kind: EventSnapshot, Candles: snap})
			}
			return data, nil
		}
		lastErr = err
		if attempt == c.opts.FetchAttempts {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("snapshot fetch failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("feed: fetch snapshot: %w", lastErr)
}

func (c *Client) fetchOnce(ctx context.Context) ([]candle.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/candles", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	var payload struct {
		Data []candle.Candle `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return payload.Data, nil
}

// Connect starts the realtime loop, replacing any loop already running,
// and resets the attempt counter. It returns immediately.
func (c *Client) Connect(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.stopLocked()

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go func() {
		defer close(done)
		c.supervise(ctx)
	}()
	return nil
}

// Disconnect closes the connection normally. No reconnect follows.
func (c *Client) Disconnect() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.stopLocked()
	c.setState(StateDisconnected)
}

// Close disconnects and makes further Connect calls fail.
func (c *Client) Close() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.stopLocked()
	c.closed = true
	c.setState(StateDisconnected)
}

func (c *Client) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

// Done is closed when the current loop exits. Nil if none was started.
func (c *Client) Done() <-chan struct{} {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.done
}

func (c *Client) supervise(ctx context.Context) {
	for {
		c.setState(StateConnecting)
		dialed, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		if err == nil {
			c.log.Info().Msg("connection closed normally")
			c.setState(StateDisconnected)
			return
		}

		if dialed {
			c.setState(StateDisconnected)
		} else {
			c.setState(StateError)
		}

		c.mu.Lock()
		exhausted := c.attempts >= c.opts.MaxRetries
		if !exhausted {
			c.attempts++
		}
		attempt := c.attempts
		c.mu.Unlock()

		if exhausted {
			c.log.Error().Err(err).Int("attempts", attempt).Msg("giving up on realtime connection")
			c.setState(StateError)
			c.emit(Event{Kind: EventTerminal, State: StateError, Err: fmt.Errorf("%w: %v", ErrRetriesExhausted, err)})
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Int("max", c.opts.MaxRetries).
			Dur("retry_in", c.opts.ReconnectDelay).Msg("realtime connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session runs one connection. It reports whether the dial succeeded and
// returns nil only for a normal close by the server.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.WSURL)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.setState(StateConnected)
	c.log.Info().Str("url", c.opts.WSURL).Msg("realtime connected")

	var writeMu sync.Mutex
	sessionDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ping := time.NewTicker(c.opts.KeepaliveInterval)
		defer ping.Stop()
		for {
			select {
			case <-ping.C:
				writeMu.Lock()
				err := conn.WriteJSON(map[string]string{"type": "ping"})
				writeMu.Unlock()
				if err != nil {
					c.log.Debug().Err(err).Msg("keepalive write failed")
				}
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-sessionDone:
				return
			}
		}
	}()
	defer func() {
		close(sessionDone)
		wg.Wait()
		_ = conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, nil
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.log.Warn().Err(err).Msg("dropping malformed frame")
				continue
			}
			return true, fmt.Errorf("read: %w", err)
		}
		c.HandleMessage(msg)
	}
}
