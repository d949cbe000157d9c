package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/tetherdev/tether/internal/journal"
	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/syncq"
	"github.com/tetherdev/tether/internal/watcher"
	"github.com/tetherdev/tether/internal/wire"
)

// ErrConnectionLost is surfaced once reconnect attempts are exhausted.
var ErrConnectionLost = errors.New("connection lost: reconnect attempts exhausted")

// errSessionClosed flows internally when the remote shell exits normally.
var errSessionClosed = errors.New("session closed")

// Controller owns the local side: the file watcher, the sync queue, and
// the channel connection. One controller per project session.
type Controller struct {
	ChannelURL string
	Token      string

	WatchDir   string // local tree to mirror; empty disables sync
	RemoteRoot string

	Queue   *syncq.Queue
	Watcher *watcher.Watcher
	Journal *journal.Journal // optional

	// Reconnect policy: base delay doubling per attempt up to Max, at
	// most MaxAttempts consecutive failures before ErrConnectionLost.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int

	// Terminal attach. When Terminal is set, a shell session is created
	// after each (re)connect and local I/O flows through the channel.
	Terminal bool
	Cols     int
	Rows     int
	Stdin    io.Reader
	Stdout   io.Writer
	WinCh    <-chan [2]int // optional cols/rows updates (SIGWINCH)

	// DrainInterval triggers queue drains while connected. Zero means
	// drain only after reconnect.
	DrainInterval time.Duration

	connected atomic.Bool
}

// Connected reports whether the channel is currently up.
func (c *Controller) Connected() bool {
	return c.connected.Load()
}

// Run drives the controller until ctx is cancelled, the terminal session
// ends, or reconnection fails permanently.
func (c *Controller) Run(ctx context.Context) error {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.Queue != nil {
		go c.Queue.Run(runCtx)
		go c.consumeResults(runCtx)
	}
	if c.Watcher != nil {
		go c.Watcher.Run(runCtx)
		go c.consumeWatchEvents(runCtx)
	}

	var stdinCh chan []byte
	if c.Terminal {
		stdinCh = make(chan []byte, 64)
		go c.pumpStdin(runCtx, stdinCh)
	}

	bo := wire.NewBackoff(c.ReconnectBase, c.ReconnectMax)
	var lastErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ch, err := Dial(ctx, c.ChannelURL, c.Token)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				return err
			}
			lastErr = err
			if bo.Attempts() >= c.MaxAttempts {
				logger.Error("giving up on relay", "attempts", bo.Attempts(), "err", lastErr)
				return fmt.Errorf("%w (last error: %v)", ErrConnectionLost, lastErr)
			}
			delay := bo.Next()
			logger.Warn("relay unreachable, retrying", "delay", delay, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		bo.Reset()
		c.connected.Store(true)
		logger.Info("connected to relay", "url", c.ChannelURL)

		// Re-authenticated: anything queued while disconnected drains now.
		if c.Queue != nil {
			go c.Queue.DrainWait(ctx)
		}

		err = c.serve(ctx, ch, stdinCh)
		c.connected.Store(false)
		ch.Close()

		if errors.Is(err, errSessionClosed) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("relay disconnected", "err", err)
	}
}

// serve runs one connected stint: optional terminal create, periodic
// drains, and the frame read loop. Returns when the channel drops or the
// session ends.
func (c *Controller) serve(ctx context.Context, ch *Channel, stdinCh chan []byte) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.Terminal {
		create := wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionCreate, Cols: c.Cols, Rows: c.Rows}
		if err := ch.WriteJSON(sctx, create); err != nil {
			return err
		}
		go func() {
			for {
				select {
				case <-sctx.Done():
					return
				case data := <-stdinCh:
					if err := ch.WriteJSON(sctx, wire.NewInput(data)); err != nil {
						return
					}
				}
			}
		}()
		if c.WinCh != nil {
			go func() {
				for {
					select {
					case <-sctx.Done():
						return
					case size := <-c.WinCh:
						resize := wire.Terminal{Type: wire.TypeTerminal, Action: wire.ActionResize, Cols: size[0], Rows: size[1]}
						if err := ch.WriteJSON(sctx, resize); err != nil {
							return
						}
					}
				}
			}()
		}
	}

	if c.Queue != nil && c.DrainInterval > 0 {
		go func() {
			t := time.NewTicker(c.DrainInterval)
			defer t.Stop()
			for {
				select {
				case <-sctx.Done():
					return
				case <-t.C:
					c.Queue.DrainWait(sctx)
				}
			}
		}()
	}

	for {
		data, err := ch.Read(sctx)
		if err != nil {
			return err
		}

		env, err := wire.ParseEnvelope(data)
		if err != nil {
			logger.Warn("bad frame from relay", "err", err)
			continue
		}

		switch env.Type {
		case wire.TypeTerminal:
			var t wire.Terminal
			if err := json.Unmarshal(data, &t); err != nil {
				continue
			}
			switch t.Action {
			case wire.ActionCreated:
				logger.Debug("terminal session created")
			case wire.ActionClosed:
				if c.Stdout != nil {
					fmt.Fprintf(c.Stdout, "\r\nsession closed (exit %d)\r\n", t.Code)
				}
				return errSessionClosed
			default:
				raw, derr := t.DecodeData()
				if derr != nil || len(raw) == 0 {
					continue
				}
				if c.Stdout != nil {
					c.Stdout.Write(raw)
				}
			}
		case wire.TypeError:
			var e wire.ErrorMsg
			json.Unmarshal(data, &e)
			logger.Error("relay error", "message", e.Message)
		default:
			logger.Debug("unknown frame type", "type", env.Type)
		}
	}
}

func (c *Controller) pumpStdin(ctx context.Context, out chan<- []byte) {
	if c.Stdin == nil {
		return
	}
	buf := make([]byte, 1024)
	for {
		n, err := c.Stdin.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- data:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// consumeWatchEvents turns filesystem changes into queue operations.
// Events keep flowing while disconnected; the queue holds them until the
// next drain.
func (c *Controller) consumeWatchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.Watcher.Events():
			remotePath := path.Join(c.RemoteRoot, ev.Path)
			switch ev.Kind {
			case watcher.Deleted:
				c.Queue.Enqueue(syncq.NewDelete(ev.Path, remotePath))
			case watcher.Upserted:
				content, err := os.ReadFile(filepath.Join(c.WatchDir, filepath.FromSlash(ev.Path)))
				if err != nil {
					if os.IsNotExist(err) {
						// File vanished between the event and the read.
						c.Queue.Enqueue(syncq.NewDelete(ev.Path, remotePath))
						continue
					}
					logger.Warn("read changed file failed", "path", ev.Path, "err", err)
					continue
				}
				c.Queue.Enqueue(syncq.NewUpsert(ev.Path, remotePath, content))
			}
		}
	}
}

// consumeResults journals terminal outcomes and reports failures.
func (c *Controller) consumeResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-c.Queue.Results():
			if c.Journal != nil {
				if err := c.Journal.Record(res); err != nil {
					logger.Warn("journal write failed", "err", err)
				}
			}
			if res.Err != nil {
				logger.Error("sync failed", "path", res.Op.RemotePath,
					"kind", res.Op.Kind, "attempts", res.Attempts, "err", res.Err)
			}
		}
	}
}
