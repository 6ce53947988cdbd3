package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestScrubQuery(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "q=sunsets&start=11", "q=sunsets&start=11"},
		{"api key", "key=AIzaSyExample&cx=123", "key=REDACTED&cx=123"},
		{"token", "access_token=abc", "access_token=REDACTED"},
		{"mixed case", "ApiKey=abc", "ApiKey=REDACTED"},
		{"value only preserved key", "password=hunter2&q=x", "password=REDACTED&q=x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := scrubQuery(tc.in); got != tc.want {
				t.Errorf("scrubQuery(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestLoggingRecordsStatusAndScrubs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=x&key=secret123", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "status=418") {
		t.Errorf("expected status in log, got: %s", out)
	}
	if strings.Contains(out, "secret123") {
		t.Errorf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, "key=REDACTED") {
		t.Errorf("expected redacted key in log: %s", out)
	}
}

func TestSearchRateLimiterBurst(t *testing.T) {
	rl := NewSearchRateLimiter()
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var limited int
	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
		req.RemoteAddr = "198.51.100.7:4321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	// Burst of 5, so a tight loop of 10 must see refusals.
	if limited == 0 {
		t.Error("expected some requests to be rate limited")
	}
	if limited > 5 {
		t.Errorf("expected at most 5 refusals, got %d", limited)
	}
}

func TestRateLimiterKeysByClientIP(t *testing.T) {
	rl := NewSearchRateLimiter()
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust one client's burst.
	for range 6 {
		req := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
		req.RemoteAddr = "198.51.100.8:1111"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// A different client is unaffected.
	req := httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil)
	req.RemoteAddr = "198.51.100.9:2222"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("fresh client should not be limited, got %d", rec.Code)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.4" {
		t.Errorf("expected first forwarded address, got %q", got)
	}
}
