package binding

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the bindings file into a Registry whenever it changes.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename are picked up.
type Watcher struct {
	path     string
	registry *Registry
	debounce time.Duration
	logger   Logger
}

// NewWatcher creates a watcher for path feeding registry.
func NewWatcher(path string, registry *Registry, logger Logger) *Watcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// Run watches until ctx is cancelled. A reload that fails validation is
// logged and the previous bindings stay active.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fsw.Close() //nolint:errcheck // Best effort cleanup

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info("watching bindings file", "path", w.path)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			reload = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("bindings watcher error", "error", err)

		case <-reload:
			reload = nil
			if err := LoadInto(w.registry, w.path); err != nil {
				w.logger.Error("bindings reload failed, keeping previous bindings",
					"path", w.path,
					"error", err)
				continue
			}
			w.logger.Info("bindings reloaded", "path", w.path, "count", w.registry.Len())
		}
	}
}
