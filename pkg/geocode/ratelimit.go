package geocode

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiters holds one token-bucket limiter per provider. Providers without
// an entry are not throttled. Safe for concurrent use; created per job.
type Limiters struct {
	mu         sync.RWMutex
	byProvider map[string]*rate.Limiter
}

// NewLimiters creates an empty limiter set.
func NewLimiters() *Limiters {
	return &Limiters{byProvider: make(map[string]*rate.Limiter)}
}

// Set installs the limiter for a provider, replacing any existing one.
func (l *Limiters) Set(provider string, limit rate.Limit, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byProvider[provider] = rate.NewLimiter(limit, burst)
}

// Wait blocks until the provider's limiter grants a token or ctx is done.
// Providers without a limiter only observe cancellation.
func (l *Limiters) Wait(ctx context.Context, provider string) error {
	l.mu.RLock()
	lim := l.byProvider[provider]
	l.mu.RUnlock()
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// BuildLimiters returns the standard per-provider limiter set. osmRate is
// clamped to at most one request per second per the Nominatim usage policy;
// zero or negative values fall back to the policy maximum. HERE and Google
// run unthrottled and rely on quota responses instead.
func BuildLimiters(osmRate float64) *Limiters {
	if osmRate <= 0 || osmRate > 1 {
		osmRate = 1
	}
	l := NewLimiters()
	l.Set("osm", rate.Limit(osmRate), 1)
	l.Set("opencage", rate.Limit(1), 1)
	l.Set("geocode_xyz", rate.Limit(1), 1)
	return l
}
