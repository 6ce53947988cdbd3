// Package duckduckgo implements the gateway.Gateway interface against the
// DuckDuckGo image search endpoint. It needs no credentials, which makes it
// the fallback gateway when no Google key pair is configured.
package duckduckgo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rlanders/imagewell/internal/gateway"
)

const (
	defaultBaseURL = "https://duckduckgo.com"
	htmlBaseURL    = "https://html.duckduckgo.com"
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

var vqdRegex = regexp.MustCompile(`vqd=([0-9-]+)`)

// Adapter implements gateway.Gateway for DuckDuckGo image search.
type Adapter struct {
	client  *http.Client
	limiter *gateway.RateLimiterMap
	logger  *slog.Logger
	baseURL string
	htmlURL string
}

// New creates a DuckDuckGo image search adapter with default URLs.
func New(limiter *gateway.RateLimiterMap, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, logger, defaultBaseURL, htmlBaseURL)
}

// NewWithBaseURL creates a DuckDuckGo adapter with custom base URLs (for testing).
func NewWithBaseURL(limiter *gateway.RateLimiterMap, logger *slog.Logger, baseURL, htmlURL string) *Adapter {
	return &Adapter{
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
		logger:  logger.With(slog.String("gateway", "duckduckgo")),
		baseURL: strings.TrimRight(baseURL, "/"),
		htmlURL: strings.TrimRight(htmlURL, "/"),
	}
}

// Name returns the gateway identifier.
func (a *Adapter) Name() gateway.Name { return gateway.NameDuckDuckGo }

// RequiresAuth returns false since DuckDuckGo needs no API key.
func (a *Adapter) RequiresAuth() bool { return false }

// Search fetches one page of image results starting at the 1-based offset.
// DuckDuckGo reports no total count, so TotalEstimate is always unknown.
func (a *Adapter) Search(ctx context.Context, query string, start int) (*gateway.Page, error) {
	if err := a.limiter.Wait(ctx, gateway.NameDuckDuckGo); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	vqd, err := a.getVQDToken(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting VQD token: %w", err)
	}

	if err := a.limiter.Wait(ctx, gateway.NameDuckDuckGo); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	hits, err := a.fetchImages(ctx, query, vqd, start-1)
	if err != nil {
		return nil, fmt.Errorf("fetching images: %w", err)
	}

	page := &gateway.Page{TotalEstimate: gateway.TotalUnknown}
	for _, hit := range hits {
		if hit.Image == "" {
			continue
		}
		page.Items = append(page.Items, gateway.Item{
			Title:     hit.Title,
			Link:      hit.Image,
			Thumbnail: hit.Thumbnail,
			Width:     hit.Width,
			Height:    hit.Height,
		})
	}

	a.logger.Debug("search page fetched",
		slog.String("query", query),
		slog.Int("start", start),
		slog.Int("items", len(page.Items)))

	return page, nil
}

// getVQDToken obtains the validation query digest token from DuckDuckGo.
func (a *Adapter) getVQDToken(ctx context.Context, query string) (string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.htmlURL+"/html/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config, not user input
	if err != nil {
		return "", &gateway.ErrUnavailable{Gateway: gateway.NameDuckDuckGo, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", &gateway.ErrUnavailable{
			Gateway: gateway.NameDuckDuckGo,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("VQD request returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return "", err
	}

	matches := vqdRegex.FindSubmatch(body)
	if len(matches) < 2 {
		return "", &gateway.ErrUnavailable{
			Gateway: gateway.NameDuckDuckGo,
			Message: "VQD token not found in response",
		}
	}

	return string(matches[1]), nil
}

// fetchImages queries the DuckDuckGo image search JSON endpoint.
func (a *Adapter) fetchImages(ctx context.Context, query, vqd string, offset int) ([]imageHit, error) {
	if offset < 0 {
		offset = 0
	}
	params := url.Values{
		"l":   {"us-en"},
		"o":   {"json"},
		"q":   {query},
		"vqd": {vqd},
		"f":   {",,,,,"},
		"p":   {"1"},
		"s":   {strconv.Itoa(offset)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/i.js?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", a.baseURL+"/")

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from adapter config, not user input
	if err != nil {
		return nil, &gateway.ErrUnavailable{Gateway: gateway.NameDuckDuckGo, Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &gateway.ErrUnavailable{
			Gateway: gateway.NameDuckDuckGo,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("image search returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, err
	}

	var searchResp imageSearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, &gateway.ErrUnavailable{
			Gateway: gateway.NameDuckDuckGo,
			Message: "malformed response from image search",
			Cause:   err,
		}
	}

	return searchResp.Results, nil
}
