package relay

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tetherdev/tether/internal/wire"
)

// frameCollector records frames the session emits over its write hook.
type frameCollector struct {
	mu     sync.Mutex
	frames []wire.Terminal
}

func (f *frameCollector) write(v any) error {
	t, ok := v.(wire.Terminal)
	if !ok {
		return nil
	}
	f.mu.Lock()
	f.frames = append(f.frames, t)
	f.mu.Unlock()
	return nil
}

func (f *frameCollector) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Action
	}
	return out
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close in time")
	}
}

func TestSessionLifecycle(t *testing.T) {
	fc := &frameCollector{}
	s := NewSession("chan1", fc.write)

	if s.State() != StateCreated {
		t.Fatalf("state = %s, want created", s.State())
	}

	// cat exits as soon as its stdin side goes away, which keeps the
	// teardown path fast.
	if err := s.Start("cat", 80, 24); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want running", s.State())
	}

	s.Close()
	waitClosed(t, s)
	if s.State() != StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}

	actions := fc.actions()
	if len(actions) < 2 || actions[0] != wire.ActionCreated || actions[len(actions)-1] != wire.ActionClosed {
		t.Errorf("emitted actions = %v, want created first and closed last", actions)
	}
}

func TestSessionExitCodePropagates(t *testing.T) {
	fc := &frameCollector{}
	s := NewSession("chan1", fc.write)

	if err := s.Start("sh", 80, 24); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Input([]byte("exit 7\n"))
	waitClosed(t, s)

	if code := s.ExitCode(); code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}

	fc.mu.Lock()
	last := fc.frames[len(fc.frames)-1]
	fc.mu.Unlock()
	if last.Action != wire.ActionClosed || last.Code != 7 {
		t.Errorf("closed frame = %+v", last)
	}
}

func TestSessionCloseBeforeStart(t *testing.T) {
	s := NewSession("chan1", (&frameCollector{}).write)
	s.Close()
	if s.State() != StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}
	// Starting a closed session must fail.
	if err := s.Start("cat", 80, 24); err == nil {
		t.Error("Start after Close succeeded")
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	fc := &frameCollector{}
	s := NewSession("chan1", fc.write)
	if err := s.Start("cat", 80, 24); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Close()
	s.Close()
	waitClosed(t, s)

	closed := 0
	fc.mu.Lock()
	for _, fr := range fc.frames {
		if fr.Action == wire.ActionClosed {
			closed++
		}
	}
	fc.mu.Unlock()
	if closed != 1 {
		t.Errorf("closed events = %d, want 1", closed)
	}
}

func TestSessionStartTwiceFails(t *testing.T) {
	s := NewSession("chan1", (&frameCollector{}).write)
	if err := s.Start("cat", 80, 24); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { s.Close(); waitClosed(t, s) }()

	if err := s.Start("cat", 80, 24); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestSessionInputOutsideRunningIsNoop(t *testing.T) {
	s := NewSession("chan1", (&frameCollector{}).write)
	s.Input([]byte("ignored")) // Created: must not panic or error
	s.Close()
	s.Input([]byte("ignored")) // Closed: same
}

func TestSessionOutputStreams(t *testing.T) {
	fc := &frameCollector{}
	s := NewSession("chan1", fc.write)

	if err := s.Start("sh", 80, 24); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Input([]byte("echo tether-marker\n"))

	// Output frames arrive with an empty Action and a base64 payload.
	deadline := time.After(5 * time.Second)
	for {
		fc.mu.Lock()
		var seen bool
		for _, fr := range fc.frames {
			if fr.Action != "" {
				continue
			}
			if data, err := fr.DecodeData(); err == nil && strings.Contains(string(data), "tether-marker") {
				seen = true
			}
		}
		fc.mu.Unlock()
		if seen {
			break
		}
		select {
		case <-deadline:
			t.Fatal("marker never appeared in output")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Input([]byte("exit\n"))
	waitClosed(t, s)
}
