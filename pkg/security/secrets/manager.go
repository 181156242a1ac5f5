package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Manager tries providers in order and caches hits.
type Manager struct {
	providers []KeyProvider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a manager over providers.
func NewManager(providers []KeyProvider, cacheConfig CacheConfig) *Manager {
	return &Manager{
		providers: providers,
		cache:     NewCache(cacheConfig),
		logger:    slog.Default().With("component", "secrets"),
	}
}

// APIKey returns the first key any provider holds for userID. ErrNoKey means
// every provider answered "no key"; other provider errors are returned when
// no provider produced a key. Misses are not cached.
func (m *Manager) APIKey(ctx context.Context, userID string) (string, error) {
	if value, ok := m.cache.Get(userID); ok {
		return value, nil
	}

	var lastErr error
	for _, provider := range m.providers {
		value, err := provider.APIKey(ctx, userID)
		if err == nil {
			m.cache.Set(userID, value)
			m.logger.Debug("provider key resolved",
				"provider", provider.Provider(),
				"user_id", userID,
			)
			return value, nil
		}
		if !errors.Is(err, ErrNoKey) {
			m.logger.Warn("key provider failed",
				"provider", provider.Provider(),
				"user_id", userID,
				"error", err,
			)
			lastErr = err
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to resolve provider key: %w", lastErr)
	}
	return "", ErrNoKey
}

// Provider returns the chained provider names.
func (m *Manager) Provider() string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Provider())
	}
	return strings.Join(names, ",")
}

// Refresh reloads refreshable providers and clears the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, provider := range m.providers {
		if r, ok := provider.(RefreshableProvider); ok {
			if err := r.Refresh(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", provider.Provider(), err))
			}
		}
	}
	m.cache.Clear()
	return errors.Join(errs...)
}
