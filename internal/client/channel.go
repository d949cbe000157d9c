package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tetherdev/tether/internal/wire"
)

// ErrAuthRejected means the relay refused the handshake token. Never
// retried; the user needs a fresh token.
var ErrAuthRejected = errors.New("relay rejected authentication")

const (
	dialTimeout       = 10 * time.Second
	authReplyTimeout  = 10 * time.Second
	clientWriteWindow = 10 * time.Second
)

// Channel is the client half of a persistent relay connection. The auth
// frame goes out before anything else, per the handshake protocol.
type Channel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects and authenticates. Any failure after the dial closes the
// connection before returning.
func Dial(ctx context.Context, url, token string) (*Channel, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(512 * 1024)

	ch := &Channel{conn: conn}

	if err := ch.WriteJSON(ctx, wire.Auth{Type: wire.TypeAuth, Token: token}); err != nil {
		conn.CloseNow()
		return nil, err
	}

	rctx, rcancel := context.WithTimeout(ctx, authReplyTimeout)
	defer rcancel()
	_, data, err := conn.Read(rctx)
	if err != nil {
		conn.CloseNow()
		return nil, err
	}

	var reply wire.Auth
	if err := json.Unmarshal(data, &reply); err != nil || reply.Type != wire.TypeAuth {
		conn.CloseNow()
		return nil, &wire.ProtocolError{Reason: "unexpected handshake reply"}
	}
	if !reply.Success {
		conn.CloseNow()
		return nil, ErrAuthRejected
	}
	return ch, nil
}

// WriteJSON sends one frame, serialized against concurrent writers.
func (c *Channel) WriteJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, clientWriteWindow)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// Read returns the next raw frame.
func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *Channel) Close() {
	c.conn.CloseNow()
}
