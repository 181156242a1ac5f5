package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock shared by store tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// backendsUnderTest returns each locally runnable store wired to clock.
func backendsUnderTest(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()

	mem := NewMemoryStoreWithConfig(MemoryConfig{Clock: clock.Now})
	t.Cleanup(func() { mem.Close() })

	sq, err := NewSQLiteStoreWithConfig(SQLiteConfig{
		Path:  filepath.Join(t.TempDir(), "state.db"),
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStoreWithConfig failed: %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestStore_IncrSetsTTLOnlyOnCreate(t *testing.T) {
	clock := newFakeClock()
	for name, s := range backendsUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, ttl, err := s.Incr(ctx, "rl:user:u1", time.Minute)
			if err != nil {
				t.Fatalf("Incr failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected count 1, got %d", n)
			}
			if ttl != time.Minute {
				t.Errorf("Expected ttl 1m, got %s", ttl)
			}

			clock.Advance(20 * time.Second)

			n, ttl, err = s.Incr(ctx, "rl:user:u1", time.Minute)
			if err != nil {
				t.Fatalf("Incr failed: %v", err)
			}
			if n != 2 {
				t.Errorf("Expected count 2, got %d", n)
			}
			if ttl != 40*time.Second {
				t.Errorf("Expected ttl 40s (window kept), got %s", ttl)
			}

			clock.Advance(40 * time.Second)

			n, _, err = s.Incr(ctx, "rl:user:u1", time.Minute)
			if err != nil {
				t.Fatalf("Incr failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected counter reset to 1 after expiry, got %d", n)
			}
		})
	}
}

func TestStore_DecrRemovesAtZero(t *testing.T) {
	clock := newFakeClock()
	for name, s := range backendsUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s.Incr(ctx, "slots:u1", time.Minute)
			s.Incr(ctx, "slots:u1", time.Minute)

			n, err := s.Decr(ctx, "slots:u1")
			if err != nil {
				t.Fatalf("Decr failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected 1, got %d", n)
			}

			n, err = s.Decr(ctx, "slots:u1")
			if err != nil {
				t.Fatalf("Decr failed: %v", err)
			}
			if n != 0 {
				t.Errorf("Expected 0, got %d", n)
			}
			if _, found, _ := s.Get(ctx, "slots:u1"); found {
				t.Error("Expected key to be removed at zero")
			}

			// Decrementing a missing key never goes negative.
			n, err = s.Decr(ctx, "slots:u1")
			if err != nil {
				t.Fatalf("Decr failed: %v", err)
			}
			if n != 0 {
				t.Errorf("Expected 0 for missing key, got %d", n)
			}
		})
	}
}

func TestStore_SetNX(t *testing.T) {
	clock := newFakeClock()
	for name, s := range backendsUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := s.SetNX(ctx, "idem:u1:k1", "1", 2*time.Minute)
			if err != nil {
				t.Fatalf("SetNX failed: %v", err)
			}
			if !ok {
				t.Fatal("Expected first SetNX to store")
			}

			ok, _ = s.SetNX(ctx, "idem:u1:k1", "1", 2*time.Minute)
			if ok {
				t.Error("Expected second SetNX to be rejected")
			}

			clock.Advance(2 * time.Minute)

			ok, _ = s.SetNX(ctx, "idem:u1:k1", "1", 2*time.Minute)
			if !ok {
				t.Error("Expected SetNX to store after expiry")
			}
		})
	}
}

func TestStore_TTLAndExpire(t *testing.T) {
	clock := newFakeClock()
	for name, s := range backendsUnderTest(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ttl, err := s.TTL(ctx, "cb:openrouter")
			if err != nil {
				t.Fatalf("TTL failed: %v", err)
			}
			if ttl != 0 {
				t.Errorf("Expected 0 for missing key, got %s", ttl)
			}

			if err := s.Set(ctx, "cb:openrouter", "1", 20*time.Second); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			clock.Advance(5 * time.Second)

			ttl, _ = s.TTL(ctx, "cb:openrouter")
			if ttl != 15*time.Second {
				t.Errorf("Expected 15s, got %s", ttl)
			}

			if err := s.Expire(ctx, "cb:openrouter", time.Minute); err != nil {
				t.Fatalf("Expire failed: %v", err)
			}
			ttl, _ = s.TTL(ctx, "cb:openrouter")
			if ttl != time.Minute {
				t.Errorf("Expected 1m after Expire, got %s", ttl)
			}

			if err := s.Set(ctx, "persistent", "v", 0); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			ttl, _ = s.TTL(ctx, "persistent")
			if ttl != NoExpiry {
				t.Errorf("Expected NoExpiry, got %s", ttl)
			}

			if err := s.Del(ctx, "persistent"); err != nil {
				t.Fatalf("Del failed: %v", err)
			}
			if _, found, _ := s.Get(ctx, "persistent"); found {
				t.Error("Expected key to be deleted")
			}
		})
	}
}

func TestMemoryStore_ConcurrentIncr(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Incr(ctx, "shared", time.Minute)
		}()
	}
	wg.Wait()

	v, _, _ := s.Get(ctx, "shared")
	if v != "100" {
		t.Errorf("Expected 100, got %s", v)
	}
}

func TestMemoryStore_EvictsWhenFull(t *testing.T) {
	s := NewMemoryStoreWithConfig(MemoryConfig{MaxEntries: memoryShards})
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 500; i++ {
		s.Set(ctx, "k"+strconv.Itoa(i), "v", time.Hour)
	}
	if n := s.Len(); n > memoryShards {
		t.Errorf("Expected at most %d entries, got %d", memoryShards, n)
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	s.Close() // second close is a no-op

	if _, _, err := s.Incr(context.Background(), "k", time.Second); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Set(ctx, "cb:openrouter", "1", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, found, _ := s.Get(ctx, "cb:openrouter"); !found {
		t.Error("Expected state to survive reopen")
	}
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	clock := newFakeClock()
	s, err := NewSQLiteStoreWithConfig(SQLiteConfig{
		Path:  filepath.Join(t.TempDir(), "state.db"),
		Clock: clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStoreWithConfig failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	s.Set(ctx, "short", "v", time.Second)
	s.Set(ctx, "long", "v", time.Hour)
	clock.Advance(time.Minute)

	removed, err := s.purgeExpired(ctx)
	if err != nil {
		t.Fatalf("purgeExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 row removed, got %d", removed)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "etcd"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

// TestRedisStore runs against a live server when CONCLAVE_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CONCLAVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONCLAVE_TEST_REDIS_ADDR not set")
	}

	s, err := NewRedisStore(RedisConfig{Addr: addr, KeyPrefix: "conclave-test:" + t.Name() + ":"})
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	defer s.Del(ctx, "counter")
	defer s.Del(ctx, "claim")

	n, ttl, err := s.Incr(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if n != 1 || ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected (1, (0,1m]), got (%d, %s)", n, ttl)
	}
	n, _, _ = s.Incr(ctx, "counter", time.Minute)
	if n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
	s.Decr(ctx, "counter")
	if n, _ = s.Decr(ctx, "counter"); n != 0 {
		t.Errorf("Expected 0, got %d", n)
	}
	if ttl, _ := s.TTL(ctx, "counter"); ttl != 0 {
		t.Errorf("Expected counter removed, ttl %s", ttl)
	}

	ok, _ := s.SetNX(ctx, "claim", "1", time.Minute)
	if !ok {
		t.Error("Expected first SetNX to store")
	}
	ok, _ = s.SetNX(ctx, "claim", "1", time.Minute)
	if ok {
		t.Error("Expected second SetNX to be rejected")
	}
}
