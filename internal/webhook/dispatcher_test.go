package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rlanders/imagewell/internal/config"
	"github.com/rlanders/imagewell/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestDeliversSubscribedEvent(t *testing.T) {
	var delivered atomic.Int64
	var gotType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %q", ct)
		}
		var e event.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		gotType.Store(string(e.Type))
		delivered.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher([]config.WebhookEntry{
		{Name: "audit", URL: srv.URL, Events: []string{"search.failed"}},
	}, testLogger())

	d.HandleEvent(event.Event{Type: event.SearchFailed, Timestamp: time.Now()})

	waitFor(t, 2*time.Second, func() bool { return delivered.Load() == 1 })
	if gotType.Load() != "search.failed" {
		t.Errorf("unexpected event type delivered: %v", gotType.Load())
	}
}

func TestWildcardSubscription(t *testing.T) {
	var delivered atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher([]config.WebhookEntry{
		{Name: "all", URL: srv.URL, Events: []string{"*"}},
	}, testLogger())

	d.HandleEvent(event.Event{Type: event.ProxyTimeout, Timestamp: time.Now()})

	waitFor(t, 2*time.Second, func() bool { return delivered.Load() == 1 })
}

func TestSkipsUnsubscribedEvent(t *testing.T) {
	var delivered atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcher([]config.WebhookEntry{
		{Name: "narrow", URL: srv.URL, Events: []string{"search.failed"}},
	}, testLogger())

	d.HandleEvent(event.Event{Type: event.SearchStarted, Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Errorf("unsubscribed event was delivered %d times", delivered.Load())
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]config.WebhookEntry{
		{Name: "flaky", URL: srv.URL, Events: []string{"*"}},
	}, testLogger())

	d.HandleEvent(event.Event{Type: event.SearchCompleted, Timestamp: time.Now()})

	// First retry waits one second.
	waitFor(t, 5*time.Second, func() bool { return attempts.Load() == 2 })
}
