// Package watch re-runs a callback when files under a directory tree change,
// coalescing bursts of events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch of changes is handled.
const DefaultDebounce = 500 * time.Millisecond

// Handler receives the changed paths of one debounced batch.
type Handler func(ctx context.Context, paths []string) error

// Watcher watches a directory tree with fsnotify. Handler calls run on the
// goroutine that called Run, so they never overlap.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	handler  Handler
	log      *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore skips paths whose base name matches any of the glob patterns.
// Matching directories are not watched.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) { w.ignore = append(w.ignore, patterns...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// New returns a Watcher that calls h after changes settle.
func New(h Handler, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		debounce: DefaultDebounce,
		handler:  h,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Ignored reports whether path is excluded.
func (w *Watcher) Ignored(path string) bool {
	base := filepath.Base(path)
	for _, p := range w.ignore {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// AddRecursive watches root and every directory below it.
func (w *Watcher) AddRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.Ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run handles events until ctx is cancelled or the handler fails.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || w.Ignored(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.AddRecursive(ev.Name); err != nil {
						w.log.Warn("watch new directory", "path", ev.Name, "err", err)
					}
				}
			}
			pending[ev.Name] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.log.Debug("changes settled", "paths", len(paths))
			if err := w.handler(ctx, paths); err != nil {
				return err
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "err", err)
		}
	}
}
