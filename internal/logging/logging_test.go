package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rlanders/imagewell/internal/config"
)

func TestSwappableHandlerSwap(t *testing.T) {
	var first, second bytes.Buffer
	h := NewSwappableHandler(slog.NewTextHandler(&first, nil))
	logger := slog.New(h)

	logger.Info("before swap")
	h.Swap(slog.NewTextHandler(&second, nil))
	logger.Info("after swap")

	if !strings.Contains(first.String(), "before swap") {
		t.Error("first handler missed its record")
	}
	if strings.Contains(first.String(), "after swap") {
		t.Error("first handler received a record after swap")
	}
	if !strings.Contains(second.String(), "after swap") {
		t.Error("second handler missed its record")
	}
}

func TestSwappableHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewSwappableHandler(slog.NewTextHandler(&buf, nil))
	logger := slog.New(h).With(slog.String("component", "test"))

	logger.Info("hello")

	if !strings.Contains(buf.String(), "component=test") {
		t.Errorf("attrs lost through the wrapper: %s", buf.String())
	}
}

func TestReconfigureLevelTakesEffect(t *testing.T) {
	m, logger := NewManager(config.LoggingConfig{Level: "error", Format: "text"})
	defer m.Close() //nolint:errcheck

	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}

	m.Reconfigure(config.LoggingConfig{Level: "debug", Format: "text"})

	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after reconfigure")
	}
}

func TestReconfigureFileOutput(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")

	m, logger := NewManager(config.LoggingConfig{Level: "info", Format: "json"})
	defer m.Close() //nolint:errcheck

	m.Reconfigure(config.LoggingConfig{Level: "info", Format: "json", FilePath: logPath})
	logger.Info("to the file")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "to the file") {
		t.Errorf("record missing from log file: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
