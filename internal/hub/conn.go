package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"candlecast/internal/candle"
	"candlecast/internal/provider"
)

const writeWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// wsSubscriber owns one websocket connection. All writes happen on the
// writer goroutine; Send only enqueues.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	out  chan Message

	done      chan struct{}
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn, buf int) *wsSubscriber {
	if buf <= 0 {
		buf = 64
	}
	return &wsSubscriber{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan Message, buf),
		done: make(chan struct{}),
	}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(m Message) error {
	select {
	case <-s.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case s.out <- m:
		return nil
	case <-s.done:
		return ErrSubscriberClosed
	default:
		return ErrSubscriberLagging
	}
}

func (s *wsSubscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSubscriber) writeLoop(log zerolog.Logger) {
	defer s.close()
	for {
		select {
		case m := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(m); err != nil {
				log.Debug().Err(err).Str("subscriber", s.id).Msg("write failed")
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop drains client frames until the connection drops. Clients only
// send keepalive pings; anything that is not JSON gets an error reply.
func (s *wsSubscriber) readLoop() {
	defer s.close()
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var probe json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			_ = s.Send(Message{Type: TypeError, Data: []candle.Candle{}, Error: "invalid message: expected JSON"})
		}
	}
}

// Handler upgrades to a websocket, sends the current snapshot, then
// registers the connection for broadcasts.
type Handler struct {
	reg     *Registry
	src     provider.Source
	sendBuf int
	log     zerolog.Logger

	// stopping is closed on shutdown so open connections are dropped.
	stopping <-chan struct{}
}

func NewHandler(reg *Registry, src provider.Source, sendBuf int, stopping <-chan struct{}, log zerolog.Logger) *Handler {
	return &Handler{reg: reg, src: src, sendBuf: sendBuf, stopping: stopping, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := newWSSubscriber(conn, h.sendBuf)
	log := h.log.With().Str("subscriber", sub.id).Str("remote", r.RemoteAddr).Logger()

	// The request context ends when ServeHTTP returns, so bound the
	// snapshot fetch independently.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	snapshot := h.src.FetchCandles(ctx)
	cancel()

	// snapshot first so it precedes any update in the outbound queue
	_ = sub.Send(Message{Type: TypeInitial, Data: snapshot})
	h.reg.Add(sub)
	log.Info().Int("subscribers", h.reg.Len()).Msg("client connected")

	go sub.writeLoop(log)
	go func() {
		select {
		case <-h.stopping:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			sub.close()
		case <-sub.done:
		}
	}()

	sub.readLoop()
	h.reg.Remove(sub.id)
	log.Info().Int("subscribers", h.reg.Len()).Msg("client disconnected")
}
