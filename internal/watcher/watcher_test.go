package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, ignore []string) *Watcher {
	t.Helper()
	w := New(root, ignore, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)
	// Give the recursive add a moment to register before mutating the tree.
	time.Sleep(100 * time.Millisecond)
	return w
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event arrived")
		return Event{}
	}
}

func TestCreateEmitsUpsert(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, nil)

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, w)
	if ev.Path != "a.txt" || ev.Kind != Upserted {
		t.Errorf("event = %+v, want upserted a.txt", ev)
	}
}

func TestRemoveEmitsDelete(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, dir, nil)

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, w)
	if ev.Path != "b.txt" || ev.Kind != Deleted {
		t.Errorf("event = %+v, want deleted b.txt", ev)
	}
}

func TestRapidWritesCoalesce(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, nil)

	target := filepath.Join(dir, "c.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte{byte('0' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ev := nextEvent(t, w)
	if ev.Path != "c.txt" || ev.Kind != Upserted {
		t.Fatalf("event = %+v", ev)
	}

	// The burst landed inside one debounce window, so no second event for
	// the same path should follow.
	select {
	case ev := <-w.Events():
		if ev.Path == "c.txt" {
			t.Errorf("second event for same path: %+v", ev)
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestIgnoredPrefixFiltered(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, dir, []string{".git"})

	if err := os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "kept.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ev := nextEvent(t, w)
	if ev.Path != "kept.txt" {
		t.Errorf("event = %+v, ignored path leaked", ev)
	}
}

func TestNewSubdirectoryPickedUp(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, nil)

	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the watcher register the new directory before writing into it.
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(sub, "d.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	for {
		ev := nextEvent(t, w)
		if ev.Path == "nested/d.txt" {
			if ev.Kind != Upserted {
				t.Errorf("kind = %s", ev.Kind)
			}
			return
		}
	}
}
