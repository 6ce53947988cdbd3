package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rlanders/imagewell/internal/event"
	"github.com/rlanders/imagewell/internal/gateway"
)

// ErrSessionNotFound is returned for unknown or expired session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns all live search sessions, keyed by ID. Idle sessions are
// evicted by the sweeper so abandoned browser tabs do not accumulate state.
type Manager struct {
	gw        gateway.Gateway
	maxOffset int
	ttl       time.Duration
	bus       *event.Bus
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager bound to a gateway.
func NewManager(gw gateway.Gateway, maxOffset int, ttl time.Duration, bus *event.Bus, logger *slog.Logger) *Manager {
	if maxOffset <= 0 {
		maxOffset = 100
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{
		gw:        gw,
		maxOffset: maxOffset,
		ttl:       ttl,
		bus:       bus,
		logger:    logger.With(slog.String("component", "search-manager")),
		sessions:  make(map[string]*Session),
	}
}

// Start creates a new session and runs the first page fetch for the query.
func (m *Manager) Start(ctx context.Context, query string) (Snapshot, error) {
	s := newSession(uuid.New().String(), m.gw, m.maxOffset, m.bus, m.logger)

	snap, err := s.Start(ctx, query)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return snap, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper blocks until ctx is canceled, evicting sessions idle longer
// than the TTL once a minute.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.ttl)
	m.mu.Lock()
	var evicted int
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("evicted idle sessions",
			slog.Int("evicted", evicted),
			slog.Int("remaining", remaining))
	}
}
