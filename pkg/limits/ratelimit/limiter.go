package ratelimit

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/conclave/pkg/limits/storage"
)

// Scope identifies what a rate-limit window counts.
type Scope string

const (
	ScopeUser Scope = "user"
	ScopeIP   Scope = "ip"
)

// Decision is the outcome of a single Check.
type Decision struct {
	// Allowed reports whether the request fits in the current window.
	Allowed bool

	// RetryAfterSec is the ceiling of the time left in the window when
	// Allowed is false. It is always at least 1 on denial.
	RetryAfterSec int

	// Count is the window counter after this check.
	Count int64

	// Limit is the configured limit for the window.
	Limit int
}

// Limiter checks and increments fixed-window counters.
type Limiter struct {
	store storage.Store
}

// NewLimiter creates a limiter backed by store.
func NewLimiter(store storage.Store) *Limiter {
	return &Limiter{store: store}
}

// Key returns the store key for a scope and identifier.
func Key(scope Scope, identifier string) string {
	return fmt.Sprintf("rl:%s:%s", scope, identifier)
}

// Check increments the window counter for (scope, identifier) and reports
// whether the request is within limit. A non-positive limit disables the
// check.
func (l *Limiter) Check(ctx context.Context, scope Scope, identifier string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}, nil
	}

	count, ttl, err := l.store.Incr(ctx, Key(scope, identifier), window)
	if err != nil {
		return Decision{Allowed: false, RetryAfterSec: RetryAfterSeconds(window), Limit: limit},
			fmt.Errorf("rate limit check for %s failed: %w", scope, err)
	}

	d := Decision{
		Allowed: count <= int64(limit),
		Count:   count,
		Limit:   limit,
	}
	if !d.Allowed {
		if ttl <= 0 {
			ttl = window
		}
		d.RetryAfterSec = RetryAfterSeconds(ttl)
	}
	return d, nil
}

// RetryAfterSeconds rounds d up to whole seconds with a floor of 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
