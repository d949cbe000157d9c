package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tetherdev/tether/internal/auth"
	"github.com/tetherdev/tether/internal/remote"
	"github.com/tetherdev/tether/internal/wire"
)

func startRelay(t *testing.T) (*Server, string) {
	t.Helper()
	guard := auth.NewGuard(&auth.JWTProvider{Secret: testSecret}, time.Second)
	srv := NewServer(Config{
		RemoteRoot: "/workspace",
		Audience:   "tether",
		Shell:      "cat",
	}, guard, &remote.Executor{Runner: &recordingRunner{}})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialChannel(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func TestChannelRejectsNonAuthFirstFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, url := startRelay(t)

	conn := dialChannel(t, ctx, url)
	defer conn.CloseNow()

	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate})

	var errMsg wire.ErrorMsg
	readFrame(t, ctx, conn, &errMsg)
	if errMsg.Type != wire.TypeError || !strings.Contains(errMsg.Message, "auth required") {
		t.Fatalf("reply = %+v, want auth required error", errMsg)
	}

	// The relay closes after the violation; further reads must fail.
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("channel still open after violation")
	}
}

func TestChannelRejectsBadToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, url := startRelay(t)

	conn := dialChannel(t, ctx, url)
	defer conn.CloseNow()

	sendFrame(t, ctx, conn, wire.Auth{Type: wire.TypeAuth, Token: "not-a-token"})

	var reply wire.Auth
	readFrame(t, ctx, conn, &reply)
	if reply.Success {
		t.Fatal("bad token accepted")
	}

	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("channel still open after auth rejection")
	}
}

func TestChannelSessionOverWebsocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, url := startRelay(t)

	conn := dialChannel(t, ctx, url)
	defer conn.CloseNow()

	sendFrame(t, ctx, conn, wire.Auth{Type: wire.TypeAuth, Token: validToken(t)})
	var authReply wire.Auth
	readFrame(t, ctx, conn, &authReply)
	if !authReply.Success {
		t.Fatalf("auth rejected: %s", authReply.Message)
	}

	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate, Cols: 80, Rows: 24})
	var created wire.Terminal
	readFrame(t, ctx, conn, &created)
	if created.Action != wire.ActionCreated {
		t.Fatalf("reply action = %q, want created", created.Action)
	}
	if srv.Sessions().Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", srv.Sessions().Len())
	}

	// A second create on the same channel is refused, not fatal.
	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate})
	var dup wire.ErrorMsg
	readFrame(t, ctx, conn, &dup)
	if dup.Type != wire.TypeError || !strings.Contains(dup.Message, "already active") {
		t.Fatalf("duplicate create reply = %+v", dup)
	}

	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionClose})
	// Close blocks server-side until the process is reaped, then the
	// closed event arrives.
	for {
		var frame wire.Terminal
		readFrame(t, ctx, conn, &frame)
		if frame.Action == wire.ActionClosed {
			break
		}
	}
	waitRegistryEmpty(t, srv)
}

func TestChannelDropKillsSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, url := startRelay(t)

	conn := dialChannel(t, ctx, url)

	sendFrame(t, ctx, conn, wire.Auth{Type: wire.TypeAuth, Token: validToken(t)})
	var authReply wire.Auth
	readFrame(t, ctx, conn, &authReply)
	if !authReply.Success {
		t.Fatalf("auth rejected: %s", authReply.Message)
	}

	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate})
	var created wire.Terminal
	readFrame(t, ctx, conn, &created)
	if created.Action != wire.ActionCreated {
		t.Fatalf("reply action = %q, want created", created.Action)
	}

	if srv.Sessions().Len() != 1 {
		t.Fatalf("registry has %d sessions, want 1", srv.Sessions().Len())
	}

	// Drop the connection without closing the session. The relay must
	// reap the shell process rather than leave an orphan.
	conn.CloseNow()

	waitRegistryEmpty(t, srv)
}

func TestCreateAfterSelfExitReplacesRegistryEntry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	guard := auth.NewGuard(&auth.JWTProvider{Secret: testSecret}, time.Second)
	srv := NewServer(Config{
		RemoteRoot: "/workspace",
		Audience:   "tether",
		Shell:      "sh",
	}, guard, &remote.Executor{Runner: &recordingRunner{}})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn := dialChannel(t, ctx, url)
	defer conn.CloseNow()

	sendFrame(t, ctx, conn, wire.Auth{Type: wire.TypeAuth, Token: validToken(t)})
	var authReply wire.Auth
	readFrame(t, ctx, conn, &authReply)
	if !authReply.Success {
		t.Fatalf("auth rejected: %s", authReply.Message)
	}

	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate})
	var created wire.Terminal
	readFrame(t, ctx, conn, &created)
	if created.Action != wire.ActionCreated {
		t.Fatalf("reply action = %q, want created", created.Action)
	}

	// Let the shell exit on its own rather than via a close frame.
	sendFrame(t, ctx, conn, wire.NewInput([]byte("exit 0\n")))
	for {
		var frame wire.Terminal
		readFrame(t, ctx, conn, &frame)
		if frame.Action == wire.ActionClosed {
			break
		}
	}

	// A new create must replace the dead session's registry entry, not
	// pile on top of it.
	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate})
	for {
		var frame wire.Terminal
		readFrame(t, ctx, conn, &frame)
		if frame.Action == wire.ActionCreated {
			break
		}
	}
	// A rejected duplicate create round-trips through the dispatch loop,
	// so once its reply arrives the replacement is fully registered.
	sendFrame(t, ctx, conn, wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate})
	for {
		// Shell output frames may interleave before the error reply.
		var frame struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}
		readFrame(t, ctx, conn, &frame)
		if frame.Type == wire.TypeError {
			if !strings.Contains(frame.Message, "already active") {
				t.Fatalf("duplicate create reply = %+v", frame)
			}
			break
		}
	}
	if n := srv.Sessions().Len(); n != 1 {
		t.Fatalf("registry has %d sessions after replacement, want 1", n)
	}
}

func waitRegistryEmpty(t *testing.T, srv *Server) {
	t.Helper()
	deadline := time.After(8 * time.Second)
	for srv.Sessions().Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("registry still has %d sessions", srv.Sessions().Len())
		case <-time.After(20 * time.Millisecond):
		}
	}
}
