// Package gateway defines the contract between the search aggregation
// controller and upstream image search services.
package gateway

import (
	"context"
	"fmt"
)

// Name uniquely identifies an upstream search gateway.
type Name string

// Known gateway names.
const (
	NameGoogle     Name = "google"
	NameDuckDuckGo Name = "duckduckgo"
)

// DisplayName returns a human-readable name for the gateway.
func (n Name) DisplayName() string {
	switch n {
	case NameGoogle:
		return "Google Programmable Search"
	case NameDuckDuckGo:
		return "DuckDuckGo"
	default:
		return string(n)
	}
}

// Item is a single image search hit.
type Item struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// TotalUnknown is the TotalEstimate value when the gateway reports no count.
const TotalUnknown int64 = -1

// Page is one window of results from a gateway.
type Page struct {
	Items []Item
	// TotalEstimate is the gateway's approximate total result count,
	// or TotalUnknown when the gateway does not report one.
	TotalEstimate int64
}

// Gateway is the interface all upstream search adapters implement.
// start is the 1-based offset of the first result to return.
type Gateway interface {
	// Name returns the unique gateway identifier.
	Name() Name

	// RequiresAuth returns true if this gateway needs credentials to function.
	RequiresAuth() bool

	// Search fetches one page of image results starting at the given offset.
	Search(ctx context.Context, query string, start int) (*Page, error)
}

// ErrUnavailable indicates the gateway answered with an error or could not
// be reached. Message carries the best available upstream detail.
type ErrUnavailable struct {
	Gateway Name
	Status  int // 0 when no HTTP response was received
	Message string
	Cause   error
}

func (e *ErrUnavailable) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s", e.Gateway, e.Message)
	}
	return fmt.Sprintf("gateway %s unavailable: %v", e.Gateway, e.Cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.Cause }

// ErrAuthRequired indicates the gateway needs credentials but none are configured.
type ErrAuthRequired struct {
	Gateway Name
}

func (e *ErrAuthRequired) Error() string {
	return fmt.Sprintf("gateway %s: credentials not configured", e.Gateway)
}

// Registry holds the configured gateways by name.
type Registry struct {
	gateways map[Name]Gateway
}

// NewRegistry creates an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[Name]Gateway)}
}

// Register adds a gateway to the registry.
func (r *Registry) Register(g Gateway) {
	r.gateways[g.Name()] = g
}

// Get returns the gateway with the given name, or nil.
func (r *Registry) Get(name Name) Gateway {
	return r.gateways[name]
}

// All returns all registered gateways.
func (r *Registry) All() []Gateway {
	out := make([]Gateway, 0, len(r.gateways))
	for _, g := range r.gateways {
		out = append(out, g)
	}
	return out
}
