package remote

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetherdev/tether/internal/syncq"
)

// fakeRunner records commands without executing anything.
type fakeRunner struct {
	commands []string
	stdins   [][]byte
	result   ExecResult
	err      error
}

func (f *fakeRunner) Execute(ctx context.Context, command string, stdin []byte) (ExecResult, error) {
	f.commands = append(f.commands, command)
	f.stdins = append(f.stdins, stdin)
	return f.result, f.err
}

func TestUpsertCommand(t *testing.T) {
	fr := &fakeRunner{}
	e := &Executor{Runner: fr}

	op := syncq.NewUpsert("main.go", "/workspace/src/main.go", []byte("package main\n"))
	if err := e.Apply(context.Background(), op); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(fr.commands) != 1 {
		t.Fatalf("ran %d commands, want 1", len(fr.commands))
	}
	cmd := fr.commands[0]
	if !strings.Contains(cmd, "mkdir -p '/workspace/src'") {
		t.Errorf("missing parent mkdir in %q", cmd)
	}
	// Content lands in a temp file first, then moves into place.
	if !strings.Contains(cmd, "cat > '/workspace/src/main.go.tether-tmp'") {
		t.Errorf("missing temp write in %q", cmd)
	}
	if !strings.Contains(cmd, "mv -f '/workspace/src/main.go.tether-tmp' '/workspace/src/main.go'") {
		t.Errorf("missing atomic move in %q", cmd)
	}
	if string(fr.stdins[0]) != "package main\n" {
		t.Errorf("stdin = %q, want file content", fr.stdins[0])
	}
}

func TestDeleteCommand(t *testing.T) {
	fr := &fakeRunner{}
	e := &Executor{Runner: fr}

	op := syncq.NewDelete("old.go", "/workspace/old.go")
	if err := e.Apply(context.Background(), op); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := fr.commands[0]; got != "rm -f '/workspace/old.go'" {
		t.Errorf("command = %q", got)
	}
}

func TestNonZeroExitIsExecutionError(t *testing.T) {
	fr := &fakeRunner{result: ExecResult{ExitCode: 1, Stderr: "disk full"}}
	e := &Executor{Runner: fr}

	err := e.Apply(context.Background(), syncq.NewUpsert("a", "/ws/a", []byte("x")))
	if !IsExecutionError(err) {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q missing stderr detail", err)
	}
	if !strings.Contains(err.Error(), "/ws/a") {
		t.Errorf("error %q missing path", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{Runner: &LocalRunner{}}
	op := syncq.NewDelete("gone.txt", target)

	if err := e.Apply(context.Background(), op); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	// Second delete: file already absent, still no error.
	if err := e.Apply(context.Background(), op); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file still present after delete")
	}
}

func TestLocalUpsertWritesWholeFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "deep", "file.txt")

	e := &Executor{Runner: &LocalRunner{}}
	op := syncq.NewUpsert("file.txt", target, []byte("hello world\n"))

	if err := e.Apply(context.Background(), op); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello world\n" {
		t.Errorf("content = %q", got)
	}

	// Overwrite is idempotent and replaces fully.
	op2 := syncq.NewUpsert("file.txt", target, []byte("v2"))
	if err := e.Apply(context.Background(), op2); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = os.ReadFile(target)
	if string(got) != "v2" {
		t.Errorf("content after overwrite = %q, want v2", got)
	}
}

func TestMirrorCommands(t *testing.T) {
	fr := &fakeRunner{}
	e := &Executor{Runner: fr}

	if err := e.Mirror(context.Background(), "/local/src", "/ws/dst", false); err != nil {
		t.Fatalf("Mirror: %v", err)
	}
	if strings.Contains(fr.commands[0], "--delete") {
		t.Errorf("plain mirror must not delete: %q", fr.commands[0])
	}

	if err := e.Mirror(context.Background(), "/local/src", "/ws/dst", true); err != nil {
		t.Fatalf("Mirror delete: %v", err)
	}
	if !strings.Contains(fr.commands[1], "--delete") {
		t.Errorf("delete mirror missing --delete: %q", fr.commands[1])
	}
}

func TestShellQuote(t *testing.T) {
	e := &Executor{Runner: &LocalRunner{}}
	dir := t.TempDir()
	target := filepath.Join(dir, "it's a file.txt")

	op := syncq.NewUpsert("f", target, []byte("quoted"))
	if err := e.Apply(context.Background(), op); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "quoted" {
		t.Errorf("content = %q", got)
	}
}
