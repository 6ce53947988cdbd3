package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is invoked with the freshly loaded config after the file changes.
type ReloadFunc func(*Config)

// Watcher watches the config file for changes and reloads it with a
// debounce, so editors that write in multiple steps trigger one reload.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a config file watcher.
func NewWatcher(path string, onReload ReloadFunc, logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger.With("component", "config-watcher"),
		debounce: 500 * time.Millisecond,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start blocks until ctx is canceled. It watches the directory containing
// the config file (watching the file itself breaks on rename-based saves)
// and reloads on write, create, or rename events touching the file. If
// fsnotify is unavailable, the watcher logs a warning and returns.
func (w *Watcher) Start(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, config hot reload disabled", "error", err)
		return
	}
	defer fsw.Close() //nolint:errcheck

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		w.logger.Warn("watching config directory failed", "dir", dir, "error", err)
		return
	}

	w.logger.Info("config watcher starting", "path", w.path)

	// Debounce timer for coalescing rapid write events into one reload.
	// Starts stopped; reset on each relevant event.
	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	reloadPending := false

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopping")
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !reloadPending {
				reloadPending = true
			} else if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-debounceTimer.C:
			reloadPending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("reloading config failed, keeping previous config", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onReload(cfg)
}
