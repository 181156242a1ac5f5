package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const memoryShards = 64

// MemoryStore implements Store using in-process maps.
// This is the default store; all state is lost when the process exits and
// nothing is shared between instances.
//
// Keys are spread over a fixed number of shards, each with its own mutex,
// so updates for unrelated users never contend on one lock.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
	now    Clock

	// maxEntries bounds each shard; the entry closest to expiry is evicted
	// when a shard is full.
	maxEntries int

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
	closed          atomic.Bool
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryConfig configures the memory store.
type MemoryConfig struct {
	// MaxEntries is the maximum number of keys kept in memory.
	// Default: 1,000,000
	MaxEntries int

	// CleanupInterval is how often expired keys are purged.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Clock overrides time.Now. Intended for tests.
	Clock Clock
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryConfig{})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000000
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	perShard := cfg.MaxEntries / memoryShards
	if perShard < 1 {
		perShard = 1
	}

	m := &MemoryStore{
		now:             cfg.Clock,
		maxEntries:      perShard,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}

	go m.cleanupLoop()

	return m
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

// lookup returns the live entry for key, dropping it if it has expired.
// The shard lock must be held.
func (s *memoryShard) lookup(key string, now time.Time) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (m *MemoryStore) put(s *memoryShard, key string, e *memoryEntry) {
	if _, exists := s.entries[key]; !exists && len(s.entries) >= m.maxEntries {
		m.evictLocked(s)
	}
	s.entries[key] = e
}

func expiryFrom(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func remaining(e *memoryEntry, now time.Time) time.Duration {
	if e.expiresAt.IsZero() {
		return NoExpiry
	}
	return e.expiresAt.Sub(now)
}

// Incr implements Store.
func (m *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if m.closed.Load() {
		return 0, 0, ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	e := s.lookup(key, now)
	if e == nil {
		e = &memoryEntry{value: "1", expiresAt: expiryFrom(now, ttl)}
		m.put(s, key, e)
		return 1, remaining(e, now), nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("value at %q is not an integer", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, remaining(e, now), nil
}

// Decr implements Store.
func (m *MemoryStore) Decr(ctx context.Context, key string) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, m.now())
	if e == nil {
		return 0, nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %q is not an integer", key)
	}
	n--
	if n <= 0 {
		delete(s.entries, key)
		return 0, nil
	}
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// SetNX implements Store.
func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	if s.lookup(key, now) != nil {
		return false, nil
	}
	m.put(s, key, &memoryEntry{value: value, expiresAt: expiryFrom(now, ttl)})
	return true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	m.put(s, key, &memoryEntry{value: value, expiresAt: expiryFrom(m.now(), ttl)})
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if m.closed.Load() {
		return "", false, ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key, m.now())
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

// Expire implements Store.
func (m *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	if e := s.lookup(key, now); e != nil {
		e.expiresAt = expiryFrom(now, ttl)
	}
	return nil
}

// TTL implements Store.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	e := s.lookup(key, now)
	if e == nil {
		return 0, nil
	}
	return remaining(e, now), nil
}

// Del implements Store.
func (m *MemoryStore) Del(ctx context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	s := m.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Len returns the number of keys currently held, including expired keys
// that have not been purged yet.
func (m *MemoryStore) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Close stops the cleanup goroutine. Further operations return ErrClosed.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
	})
	return nil
}

// cleanupLoop periodically purges expired keys.
func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.purgeExpired()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) purgeExpired() {
	now := m.now()
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, key)
			}
		}
		s.mu.Unlock()
	}
}

// evictLocked removes the entry that would expire first. Entries without an
// expiry are only evicted when nothing else is left. The shard lock must be held.
func (m *MemoryStore) evictLocked(s *memoryShard) {
	var victim string
	var victimExpiry time.Time

	for key, e := range s.entries {
		if victim == "" {
			victim, victimExpiry = key, e.expiresAt
			continue
		}
		if victimExpiry.IsZero() && !e.expiresAt.IsZero() {
			victim, victimExpiry = key, e.expiresAt
			continue
		}
		if !e.expiresAt.IsZero() && e.expiresAt.Before(victimExpiry) {
			victim, victimExpiry = key, e.expiresAt
		}
	}

	if victim != "" {
		delete(s.entries, victim)
	}
}
