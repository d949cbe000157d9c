package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tetherdev/tether/internal/auth"
	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/wire"
)

const (
	handshakeTimeout = 10 * time.Second
	chanWriteTimeout = 10 * time.Second
	chanReadLimit    = 512 * 1024
)

// channelConn serializes writes to one websocket connection. The session's
// output pump and the dispatch loop both write frames.
type channelConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *channelConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, chanWriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, data)
}

// handleChannel runs one persistent terminal channel. The first frame must
// be auth; anything else closes the connection. After the handshake, the
// dispatch loop routes terminal frames until either side drops.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("channel accept failed", "err", err)
		return
	}
	conn.SetReadLimit(chanReadLimit)
	defer conn.CloseNow()

	ctx := r.Context()
	ch := &channelConn{conn: conn}
	channelID := uuid.New().String()[:8]

	claims, ok := s.handshake(ctx, conn, ch)
	if !ok {
		return
	}
	logger.Info("channel authenticated", "channel", channelID, "subject", claims.Subject)

	limiter := rate.NewLimiter(s.cfg.InputRate, s.cfg.InputBurst)
	var session *Session

	// Channel drop must never leak the shell process.
	defer func() {
		if session != nil {
			logger.Info("channel dropped, closing session", "channel", channelID, "session", session.ID)
			session.Close()
			s.sessions.Remove(session.ID)
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("channel closed", "channel", channelID, "err", err)
			return
		}

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			s.protocolViolation(ctx, conn, ch, err.Error())
			return
		}

		if env.Type != wire.TypeTerminal {
			s.protocolViolation(ctx, conn, ch, "unexpected message type "+env.Type)
			return
		}

		var t wire.Terminal
		if err := json.Unmarshal(data, &t); err != nil {
			s.protocolViolation(ctx, conn, ch, "bad terminal frame: "+err.Error())
			return
		}

		switch t.Action {
		case wire.ActionCreate:
			if session != nil {
				if session.State() != StateClosed {
					ch.writeJSON(ctx, wire.ErrorMsg{Type: wire.TypeError, Message: "session already active"})
					continue
				}
				// The previous process exited on its own; drop its
				// registry entry before replacing it.
				s.sessions.Remove(session.ID)
			}
			session = NewSession(channelID, func(v any) error {
				return ch.writeJSON(ctx, v)
			})
			if err := session.Start(s.cfg.Shell, t.Cols, t.Rows); err != nil {
				logger.Error("session start failed", "channel", channelID, "err", err)
				ch.writeJSON(ctx, wire.ErrorMsg{Type: wire.TypeError, Message: "failed to start session"})
				session = nil
				continue
			}
			s.sessions.Add(session)

		case wire.ActionInput:
			if session == nil {
				logger.Debug("input with no session", "channel", channelID)
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			raw, err := t.DecodeData()
			if err != nil {
				s.protocolViolation(ctx, conn, ch, err.Error())
				return
			}
			session.Input(raw)

		case wire.ActionResize:
			if session == nil {
				continue
			}
			session.Resize(t.Cols, t.Rows)

		case wire.ActionClose:
			if session == nil {
				continue
			}
			// Close blocks until the process is reaped; the reaper emits
			// the closed event with the exit code.
			session.Close()
			s.sessions.Remove(session.ID)
			session = nil

		default:
			s.protocolViolation(ctx, conn, ch, "unknown terminal action "+t.Action)
			return
		}
	}
}

// protocolViolation reports a malformed or out-of-order frame and closes
// the channel. The deferred session cleanup in handleChannel still runs.
func (s *Server) protocolViolation(ctx context.Context, conn *websocket.Conn, ch *channelConn, msg string) {
	logger.Warn("protocol violation", "reason", msg)
	ch.writeJSON(ctx, wire.ErrorMsg{Type: wire.TypeError, Message: msg})
	conn.Close(websocket.StatusPolicyViolation, "protocol violation")
}

// handshake enforces the auth-first protocol. Returns false if the channel
// was rejected and closed.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn, ch *channelConn) (claims auth.Claims, ok bool) {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	_, data, err := conn.Read(hctx)
	cancel()
	if err != nil {
		return claims, false
	}

	env, err := wire.ParseEnvelope(data)
	if err != nil || env.Type != wire.TypeAuth {
		ch.writeJSON(ctx, wire.ErrorMsg{Type: wire.TypeError, Message: "auth required"})
		conn.Close(websocket.StatusPolicyViolation, "auth required")
		return claims, false
	}

	var authMsg wire.Auth
	if err := json.Unmarshal(data, &authMsg); err != nil {
		ch.writeJSON(ctx, wire.ErrorMsg{Type: wire.TypeError, Message: "bad auth frame"})
		conn.Close(websocket.StatusPolicyViolation, "auth required")
		return claims, false
	}

	verified, err := s.guard.Verify(ctx, authMsg.Token, s.cfg.Audience)
	if err != nil {
		logger.Warn("channel auth rejected", "err", err)
		ch.writeJSON(ctx, wire.Auth{Type: wire.TypeAuth, Success: false, Message: "auth failed"})
		conn.Close(websocket.StatusPolicyViolation, "auth failed")
		return claims, false
	}

	if err := ch.writeJSON(ctx, wire.Auth{Type: wire.TypeAuth, Success: true}); err != nil {
		return claims, false
	}
	return verified, true
}
