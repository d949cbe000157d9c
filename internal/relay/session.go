package relay

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/wire"
)

// SessionState is the terminal session lifecycle.
type SessionState string

const (
	StateCreated SessionState = "created"
	StateRunning SessionState = "running"
	StateClosing SessionState = "closing"
	StateClosed  SessionState = "closed"
)

const closeGrace = 3 * time.Second

// WriteFunc sends a frame back over the session's channel.
type WriteFunc func(v any) error

// Session owns exactly one shell process bound to one channel. The process
// is terminated from every exit path, including channel drop.
type Session struct {
	ID        string
	ChannelID string

	mu       sync.Mutex
	state    SessionState
	cmd      *exec.Cmd
	ptmx     *os.File
	exitCode int
	done     chan struct{} // closed when the process is reaped

	write WriteFunc
}

func NewSession(channelID string, write WriteFunc) *Session {
	return &Session{
		ID:        uuid.New().String()[:8],
		ChannelID: channelID,
		state:     StateCreated,
		done:      make(chan struct{}),
		write:     write,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the shell in a pseudo-terminal and begins streaming output.
// Valid only in Created; emits the "created" acknowledgment on success.
func (s *Session) Start(shell string, cols, rows int) error {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return fmt.Errorf("session %s: start in state %s", s.ID, s.state)
	}

	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "bash"
	}
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start pty: %w", err)
	}

	s.cmd = cmd
	s.ptmx = ptmx
	s.state = StateRunning
	s.mu.Unlock()

	logger.Info("terminal session started", "session", s.ID, "shell", shell, "pid", cmd.Process.Pid)

	go s.pumpOutput()
	go s.reap()

	return s.write(wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreated})
}

// Input forwards raw bytes to the process. Outside Running it is a logged
// no-op, never an error.
func (s *Session) Input(data []byte) {
	s.mu.Lock()
	state, ptmx := s.state, s.ptmx
	s.mu.Unlock()
	if state != StateRunning {
		logger.Debug("terminal input ignored", "session", s.ID, "state", state)
		return
	}
	if _, err := ptmx.Write(data); err != nil {
		logger.Warn("terminal input write failed", "session", s.ID, "err", err)
	}
}

// Resize applies new terminal dimensions. Best effort.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	state, ptmx := s.state, s.ptmx
	s.mu.Unlock()
	if state != StateRunning {
		return
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		logger.Debug("terminal resize failed", "session", s.ID, "err", err)
	}
}

// Close terminates the process: SIGTERM, then SIGKILL after a grace
// period. Idempotent; valid in any state. Blocks until the process is
// reaped so callers can rely on no orphan surviving.
func (s *Session) Close() {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateCreated:
		// No process ever spawned.
		s.state = StateClosed
		close(s.done)
		s.mu.Unlock()
		return
	case StateClosing:
		s.mu.Unlock()
		<-s.done
		return
	}
	s.state = StateClosing
	cmd := s.cmd
	s.mu.Unlock()

	cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-s.done:
	case <-time.After(closeGrace):
		cmd.Process.Kill()
		<-s.done
	}
}

// ExitCode is valid once the session is Closed.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Done is closed when the process has been reaped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// pumpOutput streams PTY bytes to the channel as they arrive. Ordering
// within the stream is preserved; the PTY merges stdout and stderr.
func (s *Session) pumpOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if werr := s.write(wire.NewOutput(data)); werr != nil {
				logger.Debug("terminal output write failed", "session", s.ID, "err", werr)
				return
			}
		}
		if err != nil {
			// PTY read fails once the process side closes. The reaper
			// handles state and the closed event.
			return
		}
	}
}

// reap waits for process exit, releases resources, and emits the closed
// event with the exit code. A non-zero exit is normal operation, not an
// error.
func (s *Session) reap() {
	exitCode := 0
	if err := s.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	s.mu.Lock()
	s.exitCode = exitCode
	s.ptmx.Close()
	s.state = StateClosed
	close(s.done)
	s.mu.Unlock()

	logger.Info("terminal session exited", "session", s.ID, "code", exitCode)

	if err := s.write(wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionClosed, Code: exitCode}); err != nil {
		logger.Debug("closed event not delivered", "session", s.ID, "err", err)
	}
}
