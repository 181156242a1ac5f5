// Package limits provides admission control for generation requests.
//
// # Overview
//
// Every request passes four gates before it may reach the upstream
// provider, each backed by the same atomic per-key store:
//
//   - ratelimit: fixed-window counters per user and per client IP
//   - idempotency: claim-once keys that make client retries safe
//   - concurrency: per-user in-flight slots with TTL leak recovery
//   - circuit: per-provider cooldown after provider-caused failures
//
// # Architecture
//
//   - storage: the Store interface and its memory, SQLite and Redis backends
//   - ratelimit, idempotency, concurrency, circuit: the gates themselves
//
// Manager bundles the gates over one Store together with their configured
// limits, which is what the request orchestrator consumes.
//
// # Usage
//
//	store, err := storage.New(storage.Config{Backend: "memory"})
//	gates := limits.NewManager(store, limits.Config{
//	    UserRequests:  10,
//	    UserWindow:    time.Minute,
//	    MaxConcurrent: 2,
//	})
//	d, err := gates.RateLimiter.Check(ctx, ratelimit.ScopeUser, userID,
//	    gates.Config().UserRequests, gates.Config().UserWindow)
//
// # Multi-instance deployments
//
// With the memory or SQLite store each instance enforces limits on its own.
// Exact global limits need the Redis store.
package limits
