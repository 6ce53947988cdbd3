// Package logging owns the slog logger lifecycle and supports runtime
// reconfiguration when the config file is reloaded.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rlanders/imagewell/internal/config"
)

// SwappableHandler is a thread-safe slog.Handler that delegates to an inner
// handler which can be atomically swapped at runtime.
type SwappableHandler struct {
	inner atomic.Pointer[slog.Handler]
}

// NewSwappableHandler creates a SwappableHandler wrapping h.
func NewSwappableHandler(h slog.Handler) *SwappableHandler {
	s := &SwappableHandler{}
	s.inner.Store(&h)
	return s
}

// Swap replaces the inner handler.
func (s *SwappableHandler) Swap(h slog.Handler) {
	s.inner.Store(&h)
}

// Enabled delegates to the inner handler.
func (s *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.inner.Load()).Enabled(ctx, level)
}

// Handle delegates to the inner handler.
func (s *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return (*s.inner.Load()).Handle(ctx, r)
}

// WithAttrs returns a new SwappableHandler whose inner handler has the attrs.
func (s *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	inner := (*s.inner.Load()).WithAttrs(attrs)
	return NewSwappableHandler(inner)
}

// WithGroup returns a new SwappableHandler whose inner handler has the group.
func (s *SwappableHandler) WithGroup(name string) slog.Handler {
	inner := (*s.inner.Load()).WithGroup(name)
	return NewSwappableHandler(inner)
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *SwappableHandler
	cfg      config.LoggingConfig
	mu       sync.Mutex
	closer   io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager and returns it along with a ready-to-use logger.
func NewManager(cfg config.LoggingConfig) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	writer, closer := buildWriter(cfg)
	handler := NewSwappableHandler(buildHandler(writer, lvl, cfg.Format))

	m := &Manager{
		levelVar: lvl,
		handler:  handler,
		cfg:      cfg,
		closer:   closer,
	}

	return m, slog.New(handler)
}

// Reconfigure applies a new configuration at runtime. Level-only changes
// are instant via LevelVar; format or output changes rebuild the handler.
func (m *Manager) Reconfigure(cfg config.LoggingConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	needSwap := cfg.Format != m.cfg.Format ||
		cfg.FilePath != m.cfg.FilePath ||
		cfg.FileMaxSizeMB != m.cfg.FileMaxSizeMB ||
		cfg.FileMaxFiles != m.cfg.FileMaxFiles ||
		cfg.FileMaxAgeDays != m.cfg.FileMaxAgeDays

	if needSwap {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}

		writer, closer := buildWriter(cfg)
		m.handler.Swap(buildHandler(writer, m.levelVar, cfg.Format))
		m.closer = closer
	}

	m.cfg = cfg
}

// Close releases resources (e.g. the log file writer).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

// parseLevel converts a string to slog.Level, defaulting to Info.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildWriter creates the io.Writer for log output. If a file path is
// configured, it returns a MultiWriter (stdout + lumberjack) and the
// lumberjack logger as the closer.
func buildWriter(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return os.Stdout, nil
	}

	maxSize := cfg.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxFiles := cfg.FileMaxFiles
	if maxFiles <= 0 {
		maxFiles = 3
	}
	maxAge := cfg.FileMaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
		MaxAge:     maxAge,
		Compress:   false,
	}

	return io.MultiWriter(os.Stdout, lj), lj
}

// buildHandler creates a slog.Handler with the given writer, leveler, and format.
func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
