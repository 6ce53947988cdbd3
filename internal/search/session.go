// Package search implements the incremental search aggregation controller:
// one Session per active query, cursor-based paging against the upstream
// gateway, link-keyed deduplication, and a continuation guard that keeps at
// most one page fetch in flight per session.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rlanders/imagewell/internal/event"
	"github.com/rlanders/imagewell/internal/gateway"
	"github.com/rlanders/imagewell/internal/imagestate"
)

// Phase is the controller's fetch lifecycle state.
type Phase string

// Phases. A session always returns to PhaseIdle when a fetch completes,
// successfully or not, so the next trigger can fire.
const (
	PhaseIdle        Phase = "idle"
	PhaseLoading     Phase = "loading"
	PhaseLoadingMore Phase = "loading_more"
)

// Guard errors returned by Start and LoadMore.
var (
	// ErrEmptyQuery is returned when the query is empty after trimming.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrBusy is returned when a page fetch is already in flight.
	ErrBusy = errors.New("a page fetch is already in flight")
)

// Session owns the complete state of one active query: accumulated items,
// the pagination cursor, and the image load-state tracker. All mutation goes
// through Start and LoadMore; the mutex also acts as the in-flight guard.
type Session struct {
	ID string

	gw        gateway.Gateway
	maxOffset int
	logger    *slog.Logger
	bus       *event.Bus

	mu            sync.Mutex
	query         string
	items         []gateway.Item
	seen          map[string]struct{}
	nextOffset    int
	hasMore       bool
	totalEstimate int64
	phase         Phase
	lastError     string
	images        *imagestate.Tracker
	lastActive    time.Time
}

// Snapshot is an immutable copy of session state for API responses.
type Snapshot struct {
	SessionID     string         `json:"session_id"`
	Query         string         `json:"query"`
	Items         []gateway.Item `json:"items"`
	NextOffset    int            `json:"next_offset"`
	HasMore       bool           `json:"has_more"`
	TotalEstimate int64          `json:"total_estimate"` // -1 when unknown
	Phase         Phase          `json:"phase"`
	Error         string         `json:"error,omitempty"`
}

// newSession creates an idle session bound to a gateway.
func newSession(id string, gw gateway.Gateway, maxOffset int, bus *event.Bus, logger *slog.Logger) *Session {
	return &Session{
		ID:            id,
		gw:            gw,
		maxOffset:     maxOffset,
		logger:        logger.With(slog.String("session", id)),
		bus:           bus,
		seen:          make(map[string]struct{}),
		nextOffset:    1,
		totalEstimate: gateway.TotalUnknown,
		phase:         PhaseIdle,
		images:        imagestate.NewTracker(),
		lastActive:    time.Now(),
	}
}

// Images returns the session's image load-state tracker.
func (s *Session) Images() *imagestate.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	items := make([]gateway.Item, len(s.items))
	copy(items, s.items)
	return Snapshot{
		SessionID:     s.ID,
		Query:         s.query,
		Items:         items,
		NextOffset:    s.nextOffset,
		HasMore:       s.hasMore,
		TotalEstimate: s.totalEstimate,
		Phase:         s.phase,
		Error:         s.lastError,
	}
}

// Start discards any prior query state and runs the first page fetch for a
// new query. The previous items and all image load state are abandoned.
func (s *Session) Start(ctx context.Context, query string) (Snapshot, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Snapshot{}, ErrEmptyQuery
	}

	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	s.query = query
	s.items = nil
	s.seen = make(map[string]struct{})
	s.nextOffset = 1
	s.hasMore = true
	s.totalEstimate = gateway.TotalUnknown
	s.lastError = ""
	s.images = imagestate.NewTracker()
	s.phase = PhaseLoading
	s.lastActive = time.Now()
	s.mu.Unlock()

	s.publish(event.SearchStarted, map[string]any{"query": query})

	return s.fetchPage(ctx, 1), nil
}

// LoadMore fetches the next page for the current query. Preconditions: no
// fetch in flight, hasMore still set, and at least one item already present.
// A call that fails the hasMore/items guards is a no-op returning the
// current snapshot, matching the level-triggered continuation sentinel: a
// stale trigger must not surface as an error.
func (s *Session) LoadMore(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	if !s.hasMore || len(s.items) == 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	offset := s.nextOffset
	s.phase = PhaseLoadingMore
	s.lastError = ""
	s.lastActive = time.Now()
	s.mu.Unlock()

	return s.fetchPage(ctx, offset), nil
}

// fetchPage performs one gateway page fetch and merges the result. New
// items append after existing ones in first-seen order; a fresh Start has
// already cleared the item list. The caller must have set the loading
// phase; fetchPage always clears it.
func (s *Session) fetchPage(ctx context.Context, offset int) Snapshot {
	// The upstream rejects offsets past this bound; stop locally rather
	// than burn a round trip on a guaranteed error.
	if offset > s.maxOffset {
		s.mu.Lock()
		s.hasMore = false
		s.phase = PhaseIdle
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}

	page, err := s.gw.Search(ctx, s.currentQuery(), offset)
	if err != nil {
		return s.completeWithError(err)
	}

	s.mu.Lock()
	merged := 0
	for _, item := range page.Items {
		if _, dup := s.seen[item.Link]; dup {
			continue
		}
		s.seen[item.Link] = struct{}{}
		s.items = append(s.items, item)
		merged++
	}

	// Advance by the merged count, not the requested page size: upstream
	// deduplication can shrink a page without signalling end-of-results.
	s.nextOffset = offset + merged
	if page.TotalEstimate >= 0 {
		s.totalEstimate = page.TotalEstimate
	}

	exhausted := merged == 0 ||
		(s.totalEstimate >= 0 && int64(s.nextOffset) > s.totalEstimate)
	if exhausted {
		s.hasMore = false
	}
	s.phase = PhaseIdle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("page merged",
		slog.Int("offset", offset),
		slog.Int("merged", merged),
		slog.Int("accumulated", len(snap.Items)),
		slog.Bool("has_more", snap.HasMore))

	s.publish(event.SearchCompleted, map[string]any{
		"query":    snap.Query,
		"offset":   offset,
		"merged":   merged,
		"total":    len(snap.Items),
		"has_more": snap.HasMore,
	})

	return snap
}

// completeWithError records a fetch failure: pagination halts, already
// accumulated items stay untouched, and the phase returns to idle.
func (s *Session) completeWithError(err error) Snapshot {
	msg := classifyError(err)

	s.mu.Lock()
	s.hasMore = false
	s.lastError = msg
	s.phase = PhaseIdle
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Warn("page fetch failed", slog.String("error", err.Error()))
	s.publish(event.SearchFailed, map[string]any{
		"query": snap.Query,
		"error": msg,
	})

	return snap
}

// classifyError maps gateway failures to user-facing messages. Gateway
// errors carry the best upstream detail; transport failures get a generic
// message since no server detail exists.
func classifyError(err error) string {
	var unavailable *gateway.ErrUnavailable
	if errors.As(err, &unavailable) {
		if unavailable.Message != "" {
			return unavailable.Message
		}
		return "search request failed"
	}
	var auth *gateway.ErrAuthRequired
	if errors.As(err, &auth) {
		return "search gateway credentials are not configured"
	}
	return "could not reach the search service"
}

func (s *Session) currentQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// idleSince reports the last time the session was used.
func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch marks the session as recently used.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) publish(t event.Type, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{Type: t, Data: data})
}
