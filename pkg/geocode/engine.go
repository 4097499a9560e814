package geocode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// RunMode selects which providers a job consults and in what order.
type RunMode string

const (
	ModeMulti      RunMode = "multi"
	ModeHereOnly   RunMode = "here_only"
	ModeGoogleOnly RunMode = "google_only"
	ModeOSMOnly    RunMode = "osm_only"
)

// ParseRunMode validates a mode string.
func ParseRunMode(s string) (RunMode, error) {
	switch m := RunMode(s); m {
	case ModeMulti, ModeHereOnly, ModeGoogleOnly, ModeOSMOnly:
		return m, nil
	}
	return "", eris.Errorf("geocode: unknown run mode %q", s)
}

// providerNames returns the preference order for a mode.
func (m RunMode) providerNames() []string {
	switch m {
	case ModeHereOnly:
		return []string{"here"}
	case ModeGoogleOnly:
		return []string{"google"}
	case ModeOSMOnly:
		return []string{"osm"}
	default:
		return []string{"here", "google", "osm"}
	}
}

// retryProviderNames lists every provider a retry may consult, in default
// preference order. The last two are retry-only fallbacks.
var retryProviderNames = []string{"here", "google", "osm", "opencage", "geocode_xyz"}

// OrderForMode filters providers down to a mode's preference order.
func OrderForMode(mode RunMode, providers []Provider) []Provider {
	return pickProviders(mode.providerNames(), providers)
}

// OrderForRetry filters providers down to the retry preference order.
func OrderForRetry(providers []Provider) []Provider {
	return pickProviders(retryProviderNames, providers)
}

func pickProviders(names []string, providers []Provider) []Provider {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	order := make([]Provider, 0, len(names))
	for _, n := range names {
		if p, ok := byName[n]; ok {
			order = append(order, p)
		}
	}
	return order
}

// Engine geocodes single rows with provider fallback: variants are tried
// against each provider in preference order until one returns ROOFTOP or
// everything is exhausted. Create one Engine per job; the response cache and
// quota suppression state are job-scoped.
type Engine struct {
	providers []Provider
	cache     *Cache
	limiters  *Limiters

	mu    sync.Mutex
	quota map[string]bool // providers that exhausted their quota this job
}

// NewEngine assembles an engine over providers in preference order. A nil
// cache or limiter set falls back to defaults.
func NewEngine(providers []Provider, cache *Cache, limiters *Limiters) *Engine {
	if cache == nil {
		cache, _ = NewCache(DefaultCacheCapacity) //nolint:errcheck // cannot fail for positive capacity
	}
	if limiters == nil {
		limiters = NewLimiters()
	}
	return &Engine{
		providers: providers,
		cache:     cache,
		limiters:  limiters,
		quota:     make(map[string]bool),
	}
}

// GeocodeRow geocodes one row through the fallback chain. It always returns
// a Result: when no provider yields OK, the Result carries status ERROR and
// a summary of the last failure.
func (e *Engine) GeocodeRow(ctx context.Context, f Fields, rowIndex int) Result {
	return e.geocode(ctx, e.providers, f, rowIndex)
}

// Prior captures what a previous job produced for a row. Retry mode uses it
// to order providers and to compute the improved flag.
type Prior struct {
	APIUsed   string
	Status    Status
	Precision Precision
}

// RetryRow re-geocodes a previously attempted row. The provider that
// produced the prior result is tried last, and the returned Result carries
// Improved when the retry strictly beats the prior outcome.
func (e *Engine) RetryRow(ctx context.Context, f Fields, rowIndex int, prior Prior) Result {
	r := e.geocode(ctx, e.reorderLast(prior.APIUsed), f, rowIndex)
	r.Improved = r.Status == StatusOK &&
		(prior.Status != StatusOK || precisionRank(r.Precision) > precisionRank(prior.Precision))
	return r
}

func (e *Engine) geocode(ctx context.Context, order []Provider, f Fields, rowIndex int) Result {
	variants := Variants(f)

	var best, last Result
	for _, p := range order {
		if best.Precision == PrecisionRooftop {
			break
		}
		if e.quotaExceeded(p.Name()) {
			continue
		}
		if !p.Available() {
			last = errorResult(p.Name(), Variant{}, "no credentials")
			continue
		}

		caps := p.Capabilities()
		for _, v := range variants {
			if !caps.Accepts(v.Kind) {
				continue
			}
			if ctx.Err() != nil {
				if best.Status == StatusOK {
					return best
				}
				return cancelledResult(rowIndex)
			}

			r := e.call(ctx, p, v, rowIndex)
			if Better(r, best) {
				best = r
			} else if r.Status != StatusOK {
				last = r
			}
			if ctx.Err() != nil {
				if best.Status == StatusOK {
					return best
				}
				return cancelledResult(rowIndex)
			}
			if r.Status == StatusOverQueryLimit {
				e.suppress(p.Name())
				break
			}
			if best.Precision == PrecisionRooftop {
				break
			}
		}
	}

	if best.Status == StatusOK {
		return best
	}

	msg := "no provider produced a result"
	if last.ErrorMessage != "" {
		msg = fmt.Sprintf("%s; last (%s): %s", msg, last.APIUsed, last.ErrorMessage)
	}
	return Result{
		Status:       StatusError,
		APIUsed:      "none",
		ErrorMessage: msg,
		Timestamp:    time.Now().UTC(),
		RowIndex:     rowIndex,
	}
}

// call runs one (provider, variant) attempt through the cache and rate
// limiter. Concurrent calls for the same canonical key collapse onto one
// upstream request; cached results are re-stamped with this row's index.
func (e *Engine) call(ctx context.Context, p Provider, v Variant, rowIndex int) Result {
	key := p.Name() + "|" + p.CacheKey(v)
	r, _, err := e.cache.Do(ctx, key, func() (res Result) {
		// A panicking adapter must not tear down the single-flight
		// goroutine; encode it like any other failure.
		defer func() {
			if rec := recover(); rec != nil {
				res = errorResultf(p.Name(), v, "panic: %v", rec)
			}
		}()
		if err := e.limiters.Wait(ctx, p.Name()); err != nil {
			msg, _ := cancelMessage(ctx, err)
			return errorResult(p.Name(), v, msg)
		}
		return p.Geocode(ctx, v)
	})
	if err != nil {
		return cancelledResult(rowIndex)
	}
	r.RowIndex = rowIndex
	return r
}

// reorderLast moves the named provider to the end of the preference order.
func (e *Engine) reorderLast(name string) []Provider {
	if name == "" {
		return e.providers
	}
	order := make([]Provider, 0, len(e.providers))
	var deferred []Provider
	for _, p := range e.providers {
		if p.Name() == name {
			deferred = append(deferred, p)
			continue
		}
		order = append(order, p)
	}
	return append(order, deferred...)
}

func (e *Engine) quotaExceeded(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quota[name]
}

func (e *Engine) suppress(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quota[name] = true
}
