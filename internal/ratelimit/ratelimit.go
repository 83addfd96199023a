// Package ratelimit implements a fixed-window request counter keyed by client.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Window is the state of one key's counter after an increment.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store counts hits per key within a fixed window.
//
// Increment must be atomic per key: the read, the optional reset and the
// write happen as one step.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Remaining is the number of requests left in the current window.
func (d Decision) Remaining() int {
	if d.Count >= d.Limit {
		return 0
	}
	return d.Limit - d.Count
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter allows at most max hits per key in each window.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

// NewLimiter returns a limiter over store.
func NewLimiter(store Store, max int, window time.Duration) (*Limiter, error) {
	if max < 1 {
		return nil, fmt.Errorf("ratelimit: max must be positive, got %d", max)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", window)
	}
	return &Limiter{store: store, max: max, window: window, now: time.Now}, nil
}

// Allow records a hit for key. The hit is counted even when rejected, so a
// client hammering the endpoint does not shorten its own window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	w, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Decision{Allowed: true, Limit: l.max}, fmt.Errorf("ratelimit: increment %q: %w", key, err)
	}

	d := Decision{
		Allowed: w.Count <= l.max,
		Count:   w.Count,
		Limit:   l.max,
		ResetAt: w.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfter = w.ResetAt.Sub(l.now())
	}
	return d, nil
}
