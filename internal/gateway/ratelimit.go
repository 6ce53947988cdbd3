package gateway

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default rate limits per gateway (requests per second). Google's free tier
// allows 100 queries per day; 1 rps keeps bursts from burning the quota.
var defaultRateLimits = map[Name]rate.Limit{
	NameGoogle:     1,
	NameDuckDuckGo: 1,
}

// RateLimiterMap holds one rate.Limiter per gateway, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Name]*rate.Limiter
}

// NewRateLimiterMap creates all gateway rate limiters.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Name]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, 1)
	}
	return m
}

// Wait blocks until the rate limiter for the given gateway allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, name Name) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
