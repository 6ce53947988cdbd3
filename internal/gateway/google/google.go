// Package google implements the gateway.Gateway interface against the
// Google Programmable Search (Custom Search JSON API) image endpoint.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rlanders/imagewell/internal/gateway"
)

const (
	defaultBaseURL = "https://www.googleapis.com"
	searchPath     = "/customsearch/v1"
	pageSize       = 10 // the API's maximum num per request
)

// Adapter implements gateway.Gateway for Google Programmable Search.
type Adapter struct {
	client  *http.Client
	limiter *gateway.RateLimiterMap
	logger  *slog.Logger
	baseURL string

	mu       sync.RWMutex
	apiKey   string
	engineID string
}

// New creates a Google search adapter with the default base URL.
func New(limiter *gateway.RateLimiterMap, logger *slog.Logger, apiKey, engineID string) *Adapter {
	return NewWithBaseURL(limiter, logger, apiKey, engineID, defaultBaseURL)
}

// NewWithBaseURL creates a Google search adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *gateway.RateLimiterMap, logger *slog.Logger, apiKey, engineID, baseURL string) *Adapter {
	return &Adapter{
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
		logger:   logger.With(slog.String("gateway", "google")),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		engineID: engineID,
	}
}

// Name returns the gateway identifier.
func (a *Adapter) Name() gateway.Name { return gateway.NameGoogle }

// RequiresAuth returns true; the API needs a key and engine ID.
func (a *Adapter) RequiresAuth() bool { return true }

// SetCredentials replaces the credential pair. Called on config reload.
func (a *Adapter) SetCredentials(apiKey, engineID string) {
	a.mu.Lock()
	a.apiKey = apiKey
	a.engineID = engineID
	a.mu.Unlock()
}

func (a *Adapter) credentials() (string, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.apiKey, a.engineID
}

// Search fetches one page of image results starting at the 1-based offset.
func (a *Adapter) Search(ctx context.Context, query string, start int) (*gateway.Page, error) {
	apiKey, engineID := a.credentials()
	if apiKey == "" || engineID == "" {
		return nil, &gateway.ErrAuthRequired{Gateway: gateway.NameGoogle}
	}

	if err := a.limiter.Wait(ctx, gateway.NameGoogle); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{
		"key":        {apiKey},
		"cx":         {engineID},
		"q":          {query},
		"searchType": {"image"},
		"num":        {strconv.Itoa(pageSize)},
		"start":      {strconv.Itoa(start)},
		"safe":       {"active"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config, not user input
	if err != nil {
		return nil, &gateway.ErrUnavailable{Gateway: gateway.NameGoogle, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, &gateway.ErrUnavailable{Gateway: gateway.NameGoogle, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &gateway.ErrUnavailable{
			Gateway: gateway.NameGoogle,
			Status:  resp.StatusCode,
			Message: errorMessage(body, resp.StatusCode),
		}
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, &gateway.ErrUnavailable{
			Gateway: gateway.NameGoogle,
			Status:  resp.StatusCode,
			Message: "malformed response from search API",
			Cause:   err,
		}
	}

	page := &gateway.Page{TotalEstimate: gateway.TotalUnknown}
	for _, hit := range sr.Items {
		if hit.Link == "" {
			continue
		}
		page.Items = append(page.Items, gateway.Item{
			Title:     hit.Title,
			Link:      hit.Link,
			Thumbnail: hit.Image.ThumbnailLink,
			Width:     hit.Image.Width,
			Height:    hit.Image.Height,
		})
	}
	if sr.SearchInformation.TotalResults != "" {
		if n, err := strconv.ParseInt(sr.SearchInformation.TotalResults, 10, 64); err == nil {
			page.TotalEstimate = n
		}
	}

	a.logger.Debug("search page fetched",
		slog.String("query", query),
		slog.Int("start", start),
		slog.Int("items", len(page.Items)),
		slog.Int64("total_estimate", page.TotalEstimate))

	return page, nil
}

// errorMessage extracts the upstream error message from an error body,
// falling back to a generic message when the body is malformed.
func errorMessage(body []byte, status int) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return fmt.Sprintf("search API returned status %d", status)
}
