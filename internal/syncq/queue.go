package syncq

import (
	"context"
	"time"

	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/wire"
)

// Applier performs one remote write or delete. It must be idempotent and
// must not retry on its own; retry policy lives here.
type Applier interface {
	Apply(ctx context.Context, op Operation) error
}

// Result reports the terminal outcome of one operation: Err is nil on
// success, non-nil after retries are exhausted.
type Result struct {
	Op       Operation
	Err      error
	Attempts int
}

// Options tune the queue's retry and drain policy.
type Options struct {
	MaxAttempts  int           // tries per operation before Failed (default 3)
	RetryBase    time.Duration // first retry delay (default 500ms)
	RetryMax     time.Duration // retry delay cap (default 10s)
	ApplyTimeout time.Duration // per-call bound on the applier (default 30s)
	AutoDrain    time.Duration // drain interval; 0 = manual drain only
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 10 * time.Second
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = 30 * time.Second
	}
}

// Queue is an ordered, coalescing queue of pending file operations.
//
// A single goroutine (Run) owns all state: pending entries arrive over
// enqueueCh, drain requests over drainCh, and applier completions over an
// internal result channel. Draining is strictly single-flight — one remote
// write at a time, in enqueue order after coalescing.
type Queue struct {
	applier Applier
	opts    Options

	enqueueCh chan Operation
	drainCh   chan chan struct{}
	lenCh     chan chan int
	results   chan Result
}

func New(applier Applier, opts Options) *Queue {
	opts.defaults()
	return &Queue{
		applier:   applier,
		opts:      opts,
		enqueueCh: make(chan Operation, 64),
		drainCh:   make(chan chan struct{}),
		lenCh:     make(chan chan int),
		results:   make(chan Result, 64),
	}
}

// Enqueue adds an operation, replacing any pending entry for the same
// remote path. Safe to call from any goroutine, including while the queue
// is disconnected from its drain trigger.
func (q *Queue) Enqueue(op Operation) {
	q.enqueueCh <- op
}

// Drain requests a full drain and returns a channel closed when the queue
// is empty again.
func (q *Queue) Drain() <-chan struct{} {
	done := make(chan struct{})
	q.drainCh <- done
	return done
}

// DrainWait drains and blocks until the queue empties or ctx is done.
func (q *Queue) DrainWait(ctx context.Context) error {
	select {
	case <-q.Drain():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of pending (not in-flight) operations.
func (q *Queue) Len() int {
	reply := make(chan int)
	q.lenCh <- reply
	return <-reply
}

// Results delivers terminal outcomes: one per operation that completed or
// exhausted its retries. Superseded operations produce no result.
func (q *Queue) Results() <-chan Result {
	return q.results
}

type applyDone struct {
	op  Operation
	err error
}

// Run owns the queue state until ctx is cancelled. All mutation happens on
// this goroutine; there is no shared lock.
func (q *Queue) Run(ctx context.Context) error {
	pending := make(map[string]Operation) // remotePath → latest op
	var order []string                    // drain order

	var tick <-chan time.Time
	if q.opts.AutoDrain > 0 {
		t := time.NewTicker(q.opts.AutoDrain)
		defer t.Stop()
		tick = t.C
	}

	backoff := wire.NewBackoff(q.opts.RetryBase, q.opts.RetryMax)
	resultCh := make(chan applyDone, 1)

	var (
		draining   bool
		inflight   *Operation
		attempt    int
		retryTimer <-chan time.Time
		retryOp    *Operation
		waiters    []chan struct{}
	)

	enqueue := func(op Operation) {
		if _, exists := pending[op.RemotePath]; exists {
			// Coalesce: drop the superseded entry from the order and
			// re-enqueue at the back with the new content.
			order = removePath(order, op.RemotePath)
		}
		pending[op.RemotePath] = op
		order = append(order, op.RemotePath)
	}

	start := func(op Operation, tryNum int) {
		op.Status = InFlight
		inflight = &op
		attempt = tryNum
		go func() {
			actx, cancel := context.WithTimeout(ctx, q.opts.ApplyTimeout)
			defer cancel()
			resultCh <- applyDone{op: op, err: q.applier.Apply(actx, op)}
		}()
	}

	// next advances the drain: starts the head operation, or ends the
	// drain and wakes waiters when nothing is left.
	next := func() {
		if !draining || inflight != nil || retryOp != nil {
			return
		}
		for len(order) > 0 {
			path := order[0]
			order = order[1:]
			op, ok := pending[path]
			if !ok {
				continue
			}
			delete(pending, path)
			backoff.Reset()
			start(op, 1)
			return
		}
		draining = false
		for _, w := range waiters {
			close(w)
		}
		waiters = nil
	}

	emit := func(r Result) {
		select {
		case q.results <- r:
		default:
			logger.Warn("sync result dropped, consumer too slow",
				"path", r.Op.RemotePath, "err", r.Err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case op := <-q.enqueueCh:
			enqueue(op)

		case done := <-q.drainCh:
			waiters = append(waiters, done)
			draining = true
			next()

		case <-tick:
			draining = true
			next()

		case reply := <-q.lenCh:
			reply <- len(order)

		case res := <-resultCh:
			op := res.op
			inflight = nil
			if res.err == nil {
				op.Status = Done
				emit(Result{Op: op, Attempts: attempt})
				next()
				continue
			}
			if _, replaced := pending[op.RemotePath]; replaced {
				// Newer content queued for this path while we were in
				// flight — the replacement wins, abandon the retry.
				logger.Debug("superseded in flight, skipping retry",
					"path", op.RemotePath, "err", res.err)
				next()
				continue
			}
			if attempt >= q.opts.MaxAttempts {
				op.Status = Failed
				logger.Error("sync failed permanently", "path", op.RemotePath,
					"kind", op.Kind, "attempts", attempt, "err", res.err)
				emit(Result{Op: op, Err: res.err, Attempts: attempt})
				next()
				continue
			}
			delay := backoff.Next()
			logger.Warn("sync attempt failed, retrying", "path", op.RemotePath,
				"attempt", attempt, "delay", delay, "err", res.err)
			retryOp = &op
			retryTimer = time.After(delay)

		case <-retryTimer:
			op := *retryOp
			retryOp = nil
			retryTimer = nil
			if _, replaced := pending[op.RemotePath]; replaced {
				next()
				continue
			}
			start(op, attempt+1)
		}
	}
}

func removePath(order []string, path string) []string {
	for i, p := range order {
		if p == path {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
