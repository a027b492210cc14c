package relay

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"
)

// transientStatuses are handshake responses that relays send while
// restarting or shedding load.
var transientStatuses = []int{408, 429, 500, 502, 503, 504}

// RetryConfig controls how often a relay dial is retried. Only the
// websocket handshake is retried: once an EVENT has been written its outcome
// belongs to the caller.
type RetryConfig struct {
	// MaxRetries is the number of dials after the first one.
	MaxRetries int
	// BaseDelay is the wait before the first redial.
	BaseDelay time.Duration
	// MaxDelay caps the wait between dials.
	MaxDelay time.Duration
	// Multiplier grows the wait after every failed dial.
	Multiplier float64
	// Jitter spreads each wait over [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64
	// RetryableOn reports whether a handshake status is worth another dial.
	// Status 0 means the relay never answered with HTTP.
	RetryableOn func(statusCode int) bool
}

// DefaultRetryConfig retries refused connections and transient handshake
// statuses three times, starting at 500ms.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
		RetryableOn: func(statusCode int) bool {
			return statusCode == 0 || slices.Contains(transientStatuses, statusCode)
		},
	}
}

// ShouldRetry reports whether dial number attempt (zero based) may be
// followed by another one.
func (r *RetryConfig) ShouldRetry(attempt int, statusCode int) bool {
	switch {
	case attempt >= r.MaxRetries:
		return false
	case r.RetryableOn != nil:
		return r.RetryableOn(statusCode)
	default:
		return statusCode == 0
	}
}

// Delay returns the wait after dial number attempt.
func (r *RetryConfig) Delay(attempt int) time.Duration {
	d := float64(r.BaseDelay)
	for i := 0; i < attempt && d < float64(r.MaxDelay); i++ {
		d *= r.Multiplier
	}
	d = min(d, float64(r.MaxDelay))
	if r.Jitter > 0 {
		d *= 1 - r.Jitter + 2*r.Jitter*rand.Float64()
	}
	return time.Duration(d)
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (r *RetryConfig) Wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(r.Delay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
