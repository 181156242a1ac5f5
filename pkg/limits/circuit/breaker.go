// Package circuit implements a time-based per-provider cooldown gate.
//
// Opening the circuit writes a key with the cooldown as its TTL. While the
// key lives the provider is unavailable; when it expires the next request
// probes the provider again. There is no explicit close.
package circuit

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/conclave/pkg/limits/ratelimit"
	"mercator-hq/conclave/pkg/limits/storage"
)

// Breaker tracks provider cooldowns in the shared store.
type Breaker struct {
	store storage.Store
}

// NewBreaker creates a breaker backed by store.
func NewBreaker(store storage.Store) *Breaker {
	return &Breaker{store: store}
}

// Key returns the store key for a provider's circuit.
func Key(provider string) string {
	return "cb:" + provider
}

// CooldownSeconds returns the whole seconds left in the provider's cooldown,
// rounded up, or 0 when the circuit is closed.
func (b *Breaker) CooldownSeconds(ctx context.Context, provider string) (int, error) {
	ttl, err := b.store.TTL(ctx, Key(provider))
	if err != nil {
		return 0, fmt.Errorf("circuit state lookup failed: %w", err)
	}
	if ttl == 0 {
		return 0, nil
	}
	if ttl == storage.NoExpiry {
		// A cooldown without expiry would never close; treat it as stale.
		return 0, b.store.Del(ctx, Key(provider))
	}
	return ratelimit.RetryAfterSeconds(ttl), nil
}

// Open starts (or restarts) the provider cooldown for ttl.
func (b *Breaker) Open(ctx context.Context, provider string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.store.Set(ctx, Key(provider), "open", ttl); err != nil {
		return fmt.Errorf("circuit open failed: %w", err)
	}
	return nil
}
