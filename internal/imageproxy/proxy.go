// Package imageproxy implements the resilient fetch proxy: a same-origin
// endpoint that re-fetches images the browser cannot load directly because
// of CORS or hotlink blocking, and streams them back with permissive
// cross-origin headers.
package imageproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rlanders/imagewell/internal/event"
	img "github.com/rlanders/imagewell/internal/image"
)

// Options configures a proxy Handler.
type Options struct {
	Timeout      time.Duration // upper bound on the whole upstream fetch
	MaxBodyBytes int64         // response streaming cap
	UserAgent    string        // sent upstream to reduce hotlink blocking
	AllowedHosts []string      // empty allows any host
}

// Handler serves GET/OPTIONS /api/image-proxy. It holds no per-request
// state and is safe for unbounded parallel invocations.
type Handler struct {
	client  *http.Client
	opts    Options
	allowed map[string]bool
	bus     *event.Bus
	logger  *slog.Logger
}

// copyBufPool recycles the buffers used to stream upstream bodies.
var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

// New creates a proxy handler.
func New(opts Options, bus *event.Bus, logger *slog.Logger) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 25 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "imagewell-proxy/1.0"
	}

	var allowed map[string]bool
	if len(opts.AllowedHosts) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedHosts))
		for _, h := range opts.AllowedHosts {
			allowed[strings.ToLower(h)] = true
		}
	}

	return &Handler{
		// Redirects are followed automatically; the per-request context
		// bounds the whole chain.
		client:  &http.Client{},
		opts:    opts,
		allowed: allowed,
		bus:     bus,
		logger:  logger.With(slog.String("component", "image-proxy")),
	}
}

// ServeHTTP handles GET and OPTIONS requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	setCORSHeaders(w)

	switch req.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		h.serveGet(w, req)
	default:
		writeProxyError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) serveGet(w http.ResponseWriter, req *http.Request) {
	target, errMsg := h.validateTarget(req.URL.Query().Get("u"))
	if errMsg != "" {
		h.publish(event.ProxyDenied, map[string]any{"reason": errMsg})
		writeProxyError(w, http.StatusBadRequest, errMsg)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), h.opts.Timeout)
	defer cancel()

	upReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		writeProxyError(w, http.StatusBadRequest, "invalid target URL")
		return
	}
	upReq.Header.Set("User-Agent", h.opts.UserAgent)
	upReq.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := h.client.Do(upReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			h.publish(event.ProxyTimeout, map[string]any{"url": target.String()})
			writeProxyError(w, http.StatusGatewayTimeout, "upstream timeout")
			return
		}
		h.logger.Debug("upstream fetch failed",
			slog.String("url", target.String()),
			slog.String("error", err.Error()))
		writeProxyError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		// An upstream status below 400 (unresolvable redirect, 1xx) must
		// still present as an error to the caller.
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeProxyError(w, status,
			fmt.Sprintf("upstream returned %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body := io.LimitReader(resp.Body, h.opts.MaxBodyBytes)

	// Optional downscale: buffer and re-encode when a width cap is given
	// and the body decodes as a raster image.
	if width := parseWidth(req.URL.Query().Get("w")); width > 0 {
		h.serveDownscaled(w, body, contentType, width)
		return
	}

	w.Header().Set("Content-Type", contentType)
	setCacheHeaders(w)
	w.WriteHeader(http.StatusOK)

	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)
	if _, err := io.CopyBuffer(w, body, *bufp); err != nil {
		// Headers are gone; all we can do is log.
		h.logger.Debug("streaming upstream body interrupted",
			slog.String("url", target.String()),
			slog.String("error", err.Error()))
	}
}

// serveDownscaled re-encodes the body to fit the width cap. Bodies that do
// not decode as images pass through unmodified.
func (h *Handler) serveDownscaled(w http.ResponseWriter, body io.Reader, contentType string, width int) {
	data, err := io.ReadAll(body)
	if err != nil {
		writeProxyError(w, http.StatusBadGateway, "reading upstream body failed")
		return
	}

	out, outType := data, contentType
	if scaled, mime, scaleErr := img.Downscale(bytes.NewReader(data), width); scaleErr == nil {
		out, outType = scaled, mime
	}

	w.Header().Set("Content-Type", outType)
	setCacheHeaders(w)
	w.WriteHeader(http.StatusOK)
	w.Write(out) //nolint:errcheck
}

// validateTarget checks the raw u parameter. Returns a parsed URL or a
// client-facing rejection message; nothing is fetched on rejection.
func (h *Handler) validateTarget(raw string) (*url.URL, string) {
	if raw == "" {
		return nil, "missing u parameter"
	}

	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return nil, "u must be an absolute URL"
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, "u must use http or https"
	}
	if h.allowed != nil && !h.allowed[strings.ToLower(target.Hostname())] {
		return nil, "destination host not allowed"
	}

	return target, ""
}

func (h *Handler) publish(t event.Type, data map[string]any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(event.Event{Type: t, Data: data})
}

func parseWidth(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 4096 {
		return 0
	}
	return n
}

// setCORSHeaders attaches the permissive cross-origin headers every proxy
// response carries, success or error, so the browser can always read it.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
}

func setCacheHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "public, max-age=86400, stale-while-revalidate=604800")
}

// writeProxyError sends a structured JSON error. The status is always >= 400.
func writeProxyError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
