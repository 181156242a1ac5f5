// Package ratelimit implements fixed-window request counters per scope.
//
// Each (scope, identifier) pair owns one counter in the shared store. The
// first request of a window creates the counter with the window length as
// its TTL; later requests increment it without touching the expiry, so the
// window resets when the key expires rather than by decrementing.
//
//	limiter := ratelimit.NewLimiter(store)
//	d, err := limiter.Check(ctx, ratelimit.ScopeUser, userID, 10, time.Minute)
//	if err != nil || !d.Allowed {
//	    // reject with d.RetryAfterSec
//	}
//
// Store failures fail closed: the decision is a denial and the error is
// returned so the caller can surface it as an internal error.
package ratelimit
