package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"candlecast/internal/candle"
	"candlecast/internal/logger"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

// fakeConn replays frames pushed on in; a pushed error ends the read side.
type fakeConn struct {
	in     chan any
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan any, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadJSON(v any) error {
	select {
	case frame := <-f.in:
		if err, ok := frame.(error); ok {
			return err
		}
		b, _ := json.Marshal(frame)
		return json.Unmarshal(b, v)
	case <-f.closed:
		return errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	b, _ := json.Marshal(v)
	f.mu.Lock()
	f.writes = append(f.writes, string(b))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, fmt.Sprintf("frame:%d", mt))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// fakeDialer fails while fail is set, otherwise hands out conns from next.
type fakeDialer struct {
	mu    sync.Mutex
	fail  bool
	dials []time.Time
	next  chan *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, time.Now())
	fail := d.fail
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	select {
	case c := <-d.next:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func newTestClient(d Dialer, delay time.Duration) *Client {
	return New(Options{
		BaseURL:        "http://example.test",
		Dialer:         d,
		ReconnectDelay: delay,
		Logger:         logger.Nop(),
	})
}

// waitEvent waits for the first event matching pred.
func waitEvent(t *testing.T, c *Client, pred func(Event) bool) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if pred(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func isState(s State) func(Event) bool {
	return func(ev Event) bool { return ev.Kind == EventState && ev.State == s }
}

func c1(x int64, p float64) candle.Candle {
	return candle.Candle{X: x, O: p, H: p + 1, L: p - 1, C: p, V: 1}
}

// ─── message handling ────────────────────────────────────────────────────────

func TestHandleMessageFirstWriteWins(t *testing.T) {
	c := newTestClient(&fakeDialer{}, time.Millisecond)
	orig := candle.Candle{X: 1640995200000, O: 150.0, H: 155.0, L: 145.0, C: 152.0, V: 1000000}
	c.HandleMessage(Message{Type: "initial", Data: []candle.Candle{orig}})
	c.HandleMessage(Message{Type: "update", Data: []candle.Candle{{X: 1640995200000, O: 999, H: 999, L: 999, C: 999, V: 1}}})

	got := c.Snapshot()
	if len(got) != 1 || got[0] != orig {
		t.Fatalf("cache = %+v", got)
	}
}

func TestHandleMessageKinds(t *testing.T) {
	c := newTestClient(&fakeDialer{}, time.Millisecond)
	c.HandleMessage(Message{Type: "initial", Data: []candle.Candle{c1(3, 1), c1(1, 1)}})
	if ev := <-c.Events(); ev.Kind != EventSnapshot || len(ev.Candles) != 2 {
		t.Fatalf("event = %+v", ev)
	}

	c.HandleMessage(Message{Type: "update", Data: []candle.Candle{c1(2, 1), c1(5, 1), c1(2, 9)}})
	ev := <-c.Events()
	if ev.Kind != EventUpdate || len(ev.Candles) != 4 {
		t.Fatalf("event = %+v", ev)
	}
	for i := 1; i < len(ev.Candles); i++ {
		if ev.Candles[i].X <= ev.Candles[i-1].X {
			t.Fatalf("unordered cache: %+v", ev.Candles)
		}
	}

	before := c.Snapshot()
	c.HandleMessage(Message{Type: "error", Error: "boom"})
	ev = <-c.Events()
	var se *ServerError
	if ev.Kind != EventServerError || !errors.As(ev.Err, &se) || se.Msg != "boom" {
		t.Fatalf("event = %+v", ev)
	}
	if len(c.Snapshot()) != len(before) {
		t.Fatal("error message mutated cache")
	}

	// replacing wholesale drops the old contents
	c.HandleMessage(Message{Type: "initial", Data: []candle.Candle{c1(10, 1)}})
	if got := c.Snapshot(); len(got) != 1 || got[0].X != 10 {
		t.Fatalf("after replace: %+v", got)
	}
}

// ─── snapshot fetch ──────────────────────────────────────────────────────────

func TestFetchInitialRetriesWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/candles" {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":[{"x":2,"o":1,"h":2,"l":1,"c":1,"v":1},{"x":1,"o":1,"h":2,"l":1,"c":1,"v":1}]}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, FetchAttempts: 3, FetchBackoff: 10 * time.Millisecond, Logger: logger.Nop()})
	start := time.Now()
	data, err := c.FetchInitial(context.Background())
	if err != nil {
		t.Fatalf("FetchInitial: %v", err)
	}
	if len(data) != 2 || hits.Load() != 3 {
		t.Fatalf("data = %d, hits = %d", len(data), hits.Load())
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("backoff too short: %v", elapsed)
	}
	if got := c.Snapshot(); len(got) != 2 || got[0].X != 1 {
		t.Fatalf("cache = %+v", got)
	}
}

func TestFetchInitialKeepsPopulatedCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"x":7,"o":1,"h":2,"l":1,"c":1,"v":1}]}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Logger: logger.Nop()})
	c.HandleMessage(Message{Type: "initial", Data: []candle.Candle{c1(1, 5)}})
	if _, err := c.FetchInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot(); len(got) != 1 || got[0].X != 1 {
		t.Fatalf("cache overwritten: %+v", got)
	}
}

func TestFetchInitialGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, FetchAttempts: 2, FetchBackoff: time.Millisecond, Logger: logger.Nop()})
	if _, err := c.FetchInitial(context.Background()); err == nil || !strings.Contains(err.Error(), "http 500") {
		t.Fatalf("err = %v", err)
	}
}

// ─── reconnect loop ──────────────────────────────────────────────────────────

func TestReconnectBudget(t *testing.T) {
	d := &fakeDialer{fail: true, next: make(chan *fakeConn, 1)}
	delay := 15 * time.Millisecond
	c := newTestClient(d, delay)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, c, func(ev Event) bool { return ev.Kind == EventTerminal })
	if !errors.Is(ev.Err, ErrRetriesExhausted) {
		t.Fatalf("terminal err = %v", ev.Err)
	}
	<-c.Done()

	// one initial dial plus exactly five retries
	if n := d.count(); n != 6 {
		t.Fatalf("dials = %d, want 6", n)
	}
	if c.Attempts() != 5 {
		t.Fatalf("attempts = %d, want 5", c.Attempts())
	}
	if c.State() != StateError {
		t.Fatalf("state = %v", c.State())
	}
	d.mu.Lock()
	for i := 1; i < len(d.dials); i++ {
		if gap := d.dials[i].Sub(d.dials[i-1]); gap < delay {
			t.Errorf("retry %d after %v, want >= %v", i, gap, delay)
		}
	}
	d.mu.Unlock()

	// manual connect starts over
	d.setFail(false)
	conn := newFakeConn()
	d.next <- conn
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, c, isState(StateConnected))
	if c.Attempts() != 0 {
		t.Fatalf("attempts after manual connect = %d", c.Attempts())
	}
	c.Disconnect()
}

func TestAbnormalCloseReconnects(t *testing.T) {
	d := &fakeDialer{next: make(chan *fakeConn, 2)}
	c := newTestClient(d, 5*time.Millisecond)

	first, second := newFakeConn(), newFakeConn()
	d.next <- first
	d.next <- second
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, c, isState(StateConnected))
	first.in <- Message{Type: "initial", Data: []candle.Candle{c1(1, 1)}}
	waitEvent(t, c, func(ev Event) bool { return ev.Kind == EventSnapshot })

	first.in <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	waitEvent(t, c, isState(StateDisconnected))
	waitEvent(t, c, isState(StateConnected))
	if d.count() != 2 {
		t.Fatalf("dials = %d", d.count())
	}
	if c.Attempts() != 0 {
		t.Fatalf("attempts = %d after successful reconnect", c.Attempts())
	}

	second.in <- Message{Type: "update", Data: []candle.Candle{c1(2, 1)}}
	ev := waitEvent(t, c, func(ev Event) bool { return ev.Kind == EventUpdate })
	if len(ev.Candles) != 2 {
		t.Fatalf("cache after reconnect = %+v", ev.Candles)
	}
	c.Disconnect()
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{next: make(chan *fakeConn, 1)}
	c := newTestClient(d, 5*time.Millisecond)
	conn := newFakeConn()
	d.next <- conn
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, c, isState(StateConnected))

	conn.in <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	<-c.Done()
	time.Sleep(20 * time.Millisecond)
	if d.count() != 1 {
		t.Fatalf("dials = %d, want 1", d.count())
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
}

func TestDisconnectSendsNormalClose(t *testing.T) {
	d := &fakeDialer{next: make(chan *fakeConn, 1)}
	c := newTestClient(d, 5*time.Millisecond)
	conn := newFakeConn()
	d.next <- conn
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, c, isState(StateConnected))

	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("state = %v", c.State())
	}
	w := conn.written()
	if len(w) == 0 || w[len(w)-1] != fmt.Sprintf("frame:%d", websocket.CloseMessage) {
		t.Fatalf("writes = %v", w)
	}
	if d.count() != 1 {
		t.Fatalf("reconnected after disconnect: %d dials", d.count())
	}

	c.Close()
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("connect after close err = %v", err)
	}
}

func TestKeepalivePings(t *testing.T) {
	d := &fakeDialer{next: make(chan *fakeConn, 1)}
	c := New(Options{BaseURL: "http://example.test", Dialer: d, KeepaliveInterval: 10 * time.Millisecond, Logger: logger.Nop()})
	conn := newFakeConn()
	d.next <- conn
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, c, isState(StateConnected))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pings := 0
		for _, w := range conn.written() {
			if w == `{"type":"ping"}` {
				pings++
			}
		}
		if pings >= 2 {
			c.Disconnect()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Disconnect()
	t.Fatal("no keepalive pings written")
}

func TestWSURLFor(t *testing.T) {
	tests := map[string]string{
		"http://localhost:3000": "ws://localhost:3000/ws",
		"https://example.com":   "wss://example.com/ws",
	}
	for in, want := range tests {
		if got := wsURLFor(in); got != want {
			t.Errorf("wsURLFor(%q) = %q, want %q", in, got, want)
		}
	}
}
