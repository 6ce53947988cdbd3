// Package imagestate tracks the per-image fallback escalation: each image
// link is loaded directly first, retried once through the fetch proxy on
// failure, and given up on after a proxied failure. Transitions are one-way.
package imagestate

import "sync"

// State is the load-escalation state of a single image link.
type State int

// States, in escalation order.
const (
	// Direct means the image is (to be) loaded straight from its origin.
	Direct State = iota
	// ProxyRetry means a direct load failed and the image should be
	// requested through the fetch proxy.
	ProxyRetry
	// Failed means the proxied load failed too; the link is given up on
	// for the rest of the session and a placeholder is rendered.
	Failed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Direct:
		return "direct"
	case ProxyRetry:
		return "proxy"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tracker holds the load state for every distinct image link seen in a
// session. The zero state for an unseen link is Direct, so links need no
// registration. A Tracker is owned by one search session and discarded with
// it; it is safe for concurrent use because failure reports arrive on
// independent requests.
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]State)}
}

// State returns the current state for a link without advancing it.
func (t *Tracker) State(link string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[link]
}

// Fail records a load failure for a link and returns the new state.
// Direct escalates to ProxyRetry, ProxyRetry to Failed. Failed is terminal:
// further reports are no-ops, so duplicate failure callbacks for the same
// link cannot resurrect a retry.
func (t *Tracker) Fail(link string) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.states[link] {
	case Direct:
		t.states[link] = ProxyRetry
	case ProxyRetry:
		t.states[link] = Failed
	}
	return t.states[link]
}

// Len returns the number of links with non-initial state.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
