package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tetherdev/tether/internal/logger"
)

// Kind is what happened to a watched file.
type Kind string

const (
	Upserted Kind = "upserted"
	Deleted  Kind = "deleted"
)

// Event is one debounced filesystem change, relative to the watch root.
type Event struct {
	Path string // relative to root, slash-separated
	Kind Kind
}

// Watcher observes a directory tree recursively and emits debounced change
// events on a channel. Rapid successive writes to the same file collapse
// into one event per debounce window.
type Watcher struct {
	Root     string
	Ignore   []string      // path prefixes relative to root, e.g. ".git", "node_modules"
	Debounce time.Duration // default 200ms

	events chan Event
}

func New(root string, ignore []string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{
		Root:     root,
		Ignore:   ignore,
		Debounce: debounce,
		events:   make(chan Event, 256),
	}
}

// Events delivers debounced changes in the order they first occurred.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run watches until ctx is cancelled. New subdirectories are picked up as
// they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.Root); err != nil {
		return err
	}

	// pending accumulates events during the debounce window; order keeps
	// first-seen order for the flush.
	pending := make(map[string]Kind)
	var order []string
	var flushTimer <-chan time.Time

	flush := func() {
		for _, rel := range order {
			ev := Event{Path: rel, Kind: pending[rel]}
			select {
			case w.events <- ev:
			default:
				logger.Warn("watch event dropped, consumer too slow", "path", rel)
			}
		}
		pending = make(map[string]Kind)
		order = nil
		flushTimer = nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fe, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			rel, ok := w.relative(fe.Name)
			if !ok {
				continue
			}

			if fe.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(fe.Name); err == nil && fi.IsDir() {
					if err := w.addRecursive(fsw, fe.Name); err != nil {
						logger.Warn("watch new directory failed", "path", fe.Name, "err", err)
					}
					continue
				}
			}

			var kind Kind
			switch {
			case fe.Op.Has(fsnotify.Remove) || fe.Op.Has(fsnotify.Rename):
				kind = Deleted
			case fe.Op.Has(fsnotify.Create) || fe.Op.Has(fsnotify.Write):
				kind = Upserted
			default:
				continue // chmod only
			}

			if _, seen := pending[rel]; !seen {
				order = append(order, rel)
			}
			pending[rel] = kind
			if flushTimer == nil {
				flushTimer = time.After(w.Debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)

		case <-flushTimer:
			flush()
		}
	}
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // races with deletion are fine
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(path); ok || path == w.Root {
			if w.ignored(rel) {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return filepath.SkipDir
	})
}

// relative converts an absolute watched path to a slash-relative one,
// rejecting ignored paths.
func (w *Watcher) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", false
	}
	if w.ignored(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) ignored(rel string) bool {
	if rel == "" {
		return false
	}
	for _, ig := range w.Ignore {
		if rel == ig || strings.HasPrefix(rel, ig+"/") {
			return true
		}
	}
	return false
}
