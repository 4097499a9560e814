// Package resilience retries the module's plain outbound HTTP calls: input
// table downloads in ingest and alert webhooks in monitoring. Geocoding
// provider traffic does not go through it; providers report quota and
// failure through their result status.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy shapes the retry loop for one kind of outbound call.
type Policy struct {
	// Name tags the retry log lines.
	Name string

	// Attempts is the total try count, first call included. 1 disables
	// retries.
	Attempts int

	// BaseDelay is the wait before the second attempt. Each further wait
	// grows by Growth until MaxDelay caps it.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Growth    float64

	// Jitter spreads each wait by ±Jitter as a fraction of the computed
	// delay so parallel workers do not synchronize their retries.
	Jitter float64

	// Retryable overrides IsRetryable when non-nil.
	Retryable func(error) bool
}

// SourceFetchPolicy suits input-table downloads: a few quick attempts so a
// flaky mirror does not stall the run for long.
func SourceFetchPolicy() Policy {
	return Policy{
		Name:      "source fetch",
		Attempts:  4,
		BaseDelay: time.Second,
		MaxDelay:  15 * time.Second,
		Growth:    2,
		Jitter:    0.2,
	}
}

// WebhookPolicy suits alert delivery. Alerting endpoints rate-limit
// aggressively, so the waits start longer and stretch further.
func WebhookPolicy() Policy {
	return Policy{
		Name:      "alert webhook",
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		MaxDelay:  30 * time.Second,
		Growth:    2,
		Jitter:    0.2,
	}
}

// Run executes op under p, sleeping between attempts. Only retryable
// failures get another try, and cancellation ends the loop immediately
// with the last error.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := RunVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RunVal is Run for operations that produce a value.
func RunVal[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == p.Attempts {
			return zero, lastErr
		}

		wait := p.delay(attempt)
		zap.L().Warn("retrying call",
			zap.String("call", p.Name),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Growth < 1 {
		p.Growth = 2
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0
	}
	return p
}

// delay computes the wait after the given 1-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Growth)
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter > 0 {
		span := time.Duration(float64(d) * p.Jitter)
		d += rand.N(2*span+1) - span
	}
	if d < 0 {
		d = 0
	}
	return d
}
