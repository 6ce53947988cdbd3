package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var gotPort atomic.Int64
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(path, func(cfg *Config) {
		gotPort.Store(int64(cfg.Server.Port))
	}, logger)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if gotPort.Load() == 9191 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("reload callback never fired, last port %d", gotPort.Load())
}

func TestWatcherKeepsOldConfigOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var reloads atomic.Int64
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
	}, logger)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(100 * time.Millisecond)

	// A config that fails validation must not reach the callback.
	if err := os.WriteFile(path, []byte("gateway:\n  name: bing\n"), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("invalid config should not trigger the callback, got %d reloads", n)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var reloads atomic.Int64
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
	}, logger)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600); err != nil {
		t.Fatalf("writing other file: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if n := reloads.Load(); n != 0 {
		t.Errorf("writes to other files should not trigger reloads, got %d", n)
	}
}
