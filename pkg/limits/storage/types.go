package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NoExpiry is returned by TTL for keys that exist without an expiry.
const NoExpiry time.Duration = -1

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("storage: store is closed")

// Store is the atomic per-key state store behind admission control.
//
// A ttl of zero means the key never expires. Every method is atomic for its
// key; no method touches more than one key.
type Store interface {
	// Incr increments the integer at key and returns the new value together
	// with the remaining time to live. A missing or expired key starts at 1
	// and receives ttl; an existing key keeps its expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// Decr decrements the integer at key. When the result drops to zero or
	// below the key is removed and 0 is returned.
	Decr(ctx context.Context, key string) (int64, error)

	// SetNX stores value at key only if the key is absent or expired.
	// It reports whether the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set stores value at key unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored at key and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)

	// Expire replaces the expiry of an existing key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining lifetime of key: 0 when the key does not
	// exist, NoExpiry when it exists without an expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes key. Missing keys are ignored.
	Del(ctx context.Context, key string) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Clock returns the current time. Stores accept one so tests can move time.
type Clock func() time.Time

// Config selects and configures a Store backend.
type Config struct {
	// Backend is one of "memory", "sqlite" or "redis".
	Backend string

	Memory MemoryConfig
	SQLite SQLiteConfig
	Redis  RedisConfig
}

// New builds the Store selected by cfg.Backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStoreWithConfig(cfg.Memory), nil
	case "sqlite":
		return NewSQLiteStoreWithConfig(cfg.SQLite)
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ttlMillis converts a ttl to whole milliseconds, rounding up so a short
// positive ttl never becomes "no expiry".
func ttlMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	ms := int64(ttl / time.Millisecond)
	if ttl%time.Millisecond != 0 {
		ms++
	}
	return ms
}
