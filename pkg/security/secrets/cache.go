package secrets

import (
	"sync"
	"time"
)

// CacheConfig configures the key cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache is a TTL cache of resolved keys. When full, the entry closest to
// expiry is evicted.
type Cache struct {
	config  CacheConfig
	entries map[string]*cacheEntry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewCache creates a key cache.
func NewCache(config CacheConfig) *Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = 10000
	}
	return &Cache{
		config:  config,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Get returns a live cached key.
func (c *Cache) Get(key string) (string, bool) {
	if !c.config.Enabled {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// Set stores a key for the configured TTL.
func (c *Cache) Set(key, value string) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.expiresAt.Before(oldest) {
				oldestKey, oldest = k, e.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = &cacheEntry{
		value:     value,
		expiresAt: c.now().Add(c.config.TTL),
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
