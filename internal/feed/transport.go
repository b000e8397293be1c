package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of *websocket.Conn the client loop uses.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials real websocket connections.
type WSDialer struct {
	Dialer websocket.Dialer
	Header http.Header
}

func NewWSDialer() *WSDialer {
	return &WSDialer{Dialer: websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
