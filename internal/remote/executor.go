package remote

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/tetherdev/tether/internal/syncq"
)

// ExecutionError wraps a remote failure with enough detail for the queue's
// retry policy and for user-facing reporting: which path, which operation,
// and the underlying message.
type ExecutionError struct {
	Path string
	Kind syncq.Kind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("remote %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError reports whether err is (or wraps) an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// Executor turns queued operations into commands on the execution surface.
// Every call is idempotent: directory creation and whole-file overwrite
// have no cumulative side effects, and a missing file is not a delete
// error. The executor never retries; that belongs to the queue.
type Executor struct {
	Runner Runner
}

// Apply performs one operation. Upserts land atomically: content goes to a
// temp file first, then mv replaces the target, so no partial write is
// ever observable.
func (e *Executor) Apply(ctx context.Context, op syncq.Operation) error {
	switch op.Kind {
	case syncq.Upsert:
		return e.upsert(ctx, op)
	case syncq.Delete:
		return e.delete(ctx, op)
	default:
		return &ExecutionError{Path: op.RemotePath, Kind: op.Kind,
			Err: fmt.Errorf("unknown operation kind %q", op.Kind)}
	}
}

func (e *Executor) upsert(ctx context.Context, op syncq.Operation) error {
	dir := path.Dir(op.RemotePath)
	tmp := op.RemotePath + ".tether-tmp"
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && mv -f %s %s",
		shellQuote(dir), shellQuote(tmp), shellQuote(tmp), shellQuote(op.RemotePath))

	res, err := e.Runner.Execute(ctx, cmd, op.Payload)
	if err != nil {
		return &ExecutionError{Path: op.RemotePath, Kind: op.Kind, Err: err}
	}
	if res.ExitCode != 0 {
		return &ExecutionError{Path: op.RemotePath, Kind: op.Kind,
			Err: fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	return nil
}

func (e *Executor) delete(ctx context.Context, op syncq.Operation) error {
	cmd := "rm -f " + shellQuote(op.RemotePath)
	res, err := e.Runner.Execute(ctx, cmd, nil)
	if err != nil {
		return &ExecutionError{Path: op.RemotePath, Kind: op.Kind, Err: err}
	}
	if res.ExitCode != 0 {
		return &ExecutionError{Path: op.RemotePath, Kind: op.Kind,
			Err: fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	return nil
}

// Mirror copies the whole tree at src into dst as one recursive command.
// With deleteExtras set, files under dst absent from src are removed too —
// an explicit opt-in, since implicit deletion is a data-loss hazard.
func (e *Executor) Mirror(ctx context.Context, src, dst string, deleteExtras bool) error {
	var cmd string
	if deleteExtras {
		cmd = fmt.Sprintf("mkdir -p %s && rsync -a --delete %s/ %s/",
			shellQuote(dst), shellQuote(src), shellQuote(dst))
	} else {
		cmd = fmt.Sprintf("mkdir -p %s && cp -a %s/. %s/",
			shellQuote(dst), shellQuote(src), shellQuote(dst))
	}

	res, err := e.Runner.Execute(ctx, cmd, nil)
	if err != nil {
		return &ExecutionError{Path: dst, Kind: syncq.Upsert, Err: err}
	}
	if res.ExitCode != 0 {
		return &ExecutionError{Path: dst, Kind: syncq.Upsert,
			Err: fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	return nil
}

// shellQuote single-quotes s for safe interpolation into a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
