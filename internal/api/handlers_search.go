package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rlanders/imagewell/internal/gateway"
	img "github.com/rlanders/imagewell/internal/image"
	"github.com/rlanders/imagewell/internal/imagestate"
	"github.com/rlanders/imagewell/internal/search"
)

// handleSearchStart creates a session and fetches the first page.
// POST /api/v1/search  {"query": "..."}
func (r *Router) handleSearchStart(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	snap, err := r.sessions.Start(req.Context(), body.Query)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query must not be empty"})
			return
		}
		r.logger.Error("starting search session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	snap.Items = r.probeItemDimensions(req, snap.Items)
	writeJSON(w, http.StatusOK, snap)
}

// handleSearchMore fetches the next page for a session.
// POST /api/v1/search/{id}/more
func (r *Router) handleSearchMore(w http.ResponseWriter, req *http.Request) {
	s, ok := r.lookupSession(w, req)
	if !ok {
		return
	}

	snap, err := s.LoadMore(req.Context())
	if err != nil {
		if errors.Is(err, search.ErrBusy) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a page fetch is already in flight"})
			return
		}
		r.logger.Error("loading more results", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	snap.Items = r.probeItemDimensions(req, snap.Items)
	writeJSON(w, http.StatusOK, snap)
}

// handleSearchGet returns a session snapshot without fetching.
// GET /api/v1/search/{id}
func (r *Router) handleSearchGet(w http.ResponseWriter, req *http.Request) {
	s, ok := r.lookupSession(w, req)
	if !ok {
		return
	}
	s.Touch()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleImageReport records an image load failure and tells the caller what
// to try next for that link.
// POST /api/v1/search/{id}/images/report  {"link": "..."}
func (r *Router) handleImageReport(w http.ResponseWriter, req *http.Request) {
	s, ok := r.lookupSession(w, req)
	if !ok {
		return
	}

	var body struct {
		Link string `json:"link"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Link == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "link is required"})
		return
	}

	s.Touch()
	state := s.Images().Fail(body.Link)
	writeJSON(w, http.StatusOK, map[string]string{
		"state":  state.String(),
		"source": nextSource(state),
	})
}

// nextSource maps an escalation state to the representation the browser
// should request next.
func nextSource(s imagestate.State) string {
	switch s {
	case imagestate.ProxyRetry:
		return "proxy"
	case imagestate.Failed:
		return "placeholder"
	default:
		return "direct"
	}
}

func (r *Router) lookupSession(w http.ResponseWriter, req *http.Request) (*search.Session, bool) {
	id := req.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing session id"})
		return nil, false
	}
	s, err := r.sessions.Get(id)
	if err != nil {
		writeJSON(w, http.StatusGone, map[string]string{"error": "session not found or expired"})
		return nil, false
	}
	return s, true
}

// handleSearchPassthrough exposes one raw gateway page in the upstream wire
// shape, for callers that manage their own pagination.
// GET /api/search?q=<query>&start=<offset>
func (r *Router) handleSearchPassthrough(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query().Get("q")
	if query == "" {
		writePassthroughError(w, http.StatusBadRequest, "q parameter is required", "")
		return
	}

	start := 1
	if v := req.URL.Query().Get("start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writePassthroughError(w, http.StatusBadRequest, "start must be a positive integer", "")
			return
		}
		start = n
	}

	page, err := r.gw.Search(req.Context(), query, start)
	if err != nil {
		status, message, details := mapGatewayError(err)
		r.logger.Warn("pass-through search failed",
			slog.String("query", query),
			slog.Int("start", start),
			slog.String("error", err.Error()))
		writePassthroughError(w, status, message, details)
		return
	}

	writeJSON(w, http.StatusOK, wirePage(page))
}

// mapGatewayError converts a gateway failure to an HTTP status and the
// upstream wire error shape.
func mapGatewayError(err error) (status int, message, details string) {
	var auth *gateway.ErrAuthRequired
	if errors.As(err, &auth) {
		return http.StatusInternalServerError, "search gateway credentials are not configured", ""
	}
	var unavailable *gateway.ErrUnavailable
	if errors.As(err, &unavailable) {
		status := unavailable.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		details := ""
		if unavailable.Cause != nil {
			details = unavailable.Cause.Error()
		}
		return status, unavailable.Message, details
	}
	return http.StatusBadGateway, "could not reach the search service", ""
}

func writePassthroughError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]any{"message": message}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

// wirePage re-encodes a gateway page in the upstream response shape.
func wirePage(page *gateway.Page) map[string]any {
	items := make([]map[string]any, 0, len(page.Items))
	for _, it := range page.Items {
		entry := map[string]any{
			"title": it.Title,
			"link":  it.Link,
		}
		if it.Thumbnail != "" {
			entry["image"] = map[string]any{"thumbnailLink": it.Thumbnail}
		}
		items = append(items, entry)
	}

	out := map[string]any{"items": items}
	if page.TotalEstimate >= 0 {
		out["searchInformation"] = map[string]any{
			"totalResults": strconv.FormatInt(page.TotalEstimate, 10),
		}
	}
	return out
}

// probeItemDimensions probes result images that are missing dimensions.
// It runs probes concurrently with a cap on parallelism.
func (r *Router) probeItemDimensions(req *http.Request, items []gateway.Item) []gateway.Item {
	const maxConcurrent = 5

	var needProbe []int
	for i := range items {
		if items[i].Width == 0 && items[i].Height == 0 {
			needProbe = append(needProbe, i)
		}
	}
	if len(needProbe) == 0 {
		return items
	}

	type probeResult struct {
		idx    int
		width  int
		height int
	}

	results := make(chan probeResult, len(needProbe))
	sem := make(chan struct{}, maxConcurrent)

	for _, idx := range needProbe {
		sem <- struct{}{}
		go func(i int) {
			defer func() { <-sem }()
			url := items[i].Thumbnail
			if url == "" {
				url = items[i].Link
			}
			info, err := img.ProbeRemoteImage(req.Context(), url)
			if err != nil {
				r.logger.Debug("probing remote image dimensions",
					slog.String("url", url),
					slog.String("error", err.Error()))
				return
			}
			results <- probeResult{idx: i, width: info.Width, height: info.Height}
		}(idx)
	}

	// Wait for all goroutines to finish
	for range maxConcurrent {
		sem <- struct{}{}
	}
	close(results)

	for res := range results {
		items[res.idx].Width = res.width
		items[res.idx].Height = res.height
	}
	return items
}
