// Package webhook delivers search and proxy events to config-declared HTTP
// targets.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rlanders/imagewell/internal/config"
	"github.com/rlanders/imagewell/internal/event"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
)

// Dispatcher sends events to matching webhook targets.
type Dispatcher struct {
	targets    []config.WebhookEntry
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a webhook dispatcher for the configured targets.
func NewDispatcher(targets []config.WebhookEntry, logger *slog.Logger) *Dispatcher {
	return NewDispatcherWithHTTPClient(targets, &http.Client{Timeout: requestTimeout}, logger)
}

// NewDispatcherWithHTTPClient creates a dispatcher with a custom HTTP client (for testing).
func NewDispatcherWithHTTPClient(targets []config.WebhookEntry, httpClient *http.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		targets:    targets,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
	}
}

// HandleEvent is an event.Handler that dispatches the event to all targets
// subscribed to its type.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.targets {
		t := d.targets[i]
		if !subscribed(t, e.Type) {
			continue
		}
		go d.deliver(t, e)
	}
}

func subscribed(t config.WebhookEntry, et event.Type) bool {
	for _, name := range t.Events {
		if name == string(et) || name == "*" {
			return true
		}
	}
	return false
}

func (d *Dispatcher) deliver(t config.WebhookEntry, e event.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		d.logger.Error("encoding webhook payload", "webhook", t.Name, "error", err)
		return
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}

		lastErr = d.send(t.URL, body)
		if lastErr == nil {
			d.logger.Debug("webhook delivered",
				"webhook", t.Name,
				"event", string(e.Type),
				"attempt", attempt+1,
			)
			return
		}

		d.logger.Warn("webhook delivery failed",
			"webhook", t.Name,
			"event", string(e.Type),
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	d.logger.Error("webhook delivery exhausted retries",
		"webhook", t.Name,
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (d *Dispatcher) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Imagewell-Webhook/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()           //nolint:errcheck
	io.Copy(io.Discard, resp.Body)    //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
