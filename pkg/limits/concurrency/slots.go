// Package concurrency bounds how many generation requests a user may have
// in flight at once.
//
// # Algorithm
//
//  1. Atomically increment the user's counter in the shared store
//  2. Refresh the counter TTL (leak recovery for holders that never release)
//  3. If the counter exceeds the maximum: decrement and reject
//  4. Otherwise hand back a Slot whose Release decrements exactly once
//
// Acquire never blocks or waits for a slot to free up.
package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mercator-hq/conclave/pkg/limits/storage"
)

// releaseTimeout bounds the store call made by Release, which runs after the
// request context may already be cancelled.
const releaseTimeout = 5 * time.Second

// Manager hands out per-user concurrency slots.
type Manager struct {
	store  storage.Store
	logger *slog.Logger
}

// NewManager creates a slot manager backed by store.
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:  store,
		logger: slog.Default().With("component", "concurrency"),
	}
}

// Key returns the store key holding a user's slot count.
func Key(userID string) string {
	return "slots:" + userID
}

// Slot is a held concurrency slot.
type Slot struct {
	manager  *Manager
	userID   string
	released atomic.Bool
}

// Acquire tries to take one of maxConcurrent slots for userID. It reports
// acquired=false without error when the user already holds every slot.
// The server-side counter expires after ttl with no acquires, which frees
// slots leaked by crashed holders.
func (m *Manager) Acquire(ctx context.Context, userID string, maxConcurrent int, ttl time.Duration) (*Slot, bool, error) {
	key := Key(userID)

	count, _, err := m.store.Incr(ctx, key, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("slot acquire failed: %w", err)
	}

	if err := m.store.Expire(ctx, key, ttl); err != nil {
		m.logger.WarnContext(ctx, "failed to refresh slot ttl", "user_id", userID, "error", err)
	}

	if count > int64(maxConcurrent) {
		if _, err := m.store.Decr(ctx, key); err != nil {
			m.logger.WarnContext(ctx, "failed to roll back rejected slot", "user_id", userID, "error", err)
		}
		return nil, false, nil
	}

	return &Slot{manager: m, userID: userID}, true, nil
}

// InFlight returns how many slots userID currently holds.
func (m *Manager) InFlight(ctx context.Context, userID string) (int64, error) {
	v, found, err := m.store.Get(ctx, Key(userID))
	if err != nil || !found {
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscan(v, &n); err != nil {
		return 0, fmt.Errorf("slot count for %q is not an integer", userID)
	}
	return n, nil
}

// Release returns the slot. Only the first call decrements; later calls are
// no-ops. Store errors are logged, since the counter TTL reclaims the slot.
func (s *Slot) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	if _, err := s.manager.store.Decr(ctx, Key(s.userID)); err != nil {
		s.manager.logger.Warn("slot release failed, relying on ttl",
			"user_id", s.userID,
			"error", err,
		)
	}
}

// Released reports whether Release has been called.
func (s *Slot) Released() bool {
	return s.released.Load()
}
