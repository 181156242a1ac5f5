package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"mercator-hq/conclave/pkg/limits/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return NewManager(store), store
}

func TestManager_Bound(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, ok, err := m.Acquire(ctx, "u1", 2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Expected first acquire, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.Acquire(ctx, "u1", 2, time.Minute); !ok {
		t.Fatal("Expected second acquire")
	}
	if _, ok, _ := m.Acquire(ctx, "u1", 2, time.Minute); ok {
		t.Fatal("Expected third acquire to be rejected")
	}

	a.Release()

	if _, ok, _ := m.Acquire(ctx, "u1", 2, time.Minute); !ok {
		t.Error("Expected acquire to succeed after a release")
	}
}

func TestManager_RejectionLeavesCountUnchanged(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.Acquire(ctx, "u1", 1, time.Minute)
	m.Acquire(ctx, "u1", 1, time.Minute)
	m.Acquire(ctx, "u1", 1, time.Minute)

	n, err := m.InFlight(ctx, "u1")
	if err != nil {
		t.Fatalf("InFlight failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 in flight, got %d", n)
	}
}

func TestSlot_DoubleReleaseIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, _, _ := m.Acquire(ctx, "u1", 3, time.Minute)
	m.Acquire(ctx, "u1", 3, time.Minute)

	a.Release()
	a.Release()

	n, _ := m.InFlight(ctx, "u1")
	if n != 1 {
		t.Errorf("Expected 1 in flight after double release, got %d", n)
	}
	if !a.Released() {
		t.Error("Expected slot to report released")
	}
}

func TestSlot_ConcurrentReleaseDecrementsOnce(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, _, _ := m.Acquire(ctx, "u1", 5, time.Minute)
	m.Acquire(ctx, "u1", 5, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Release()
		}()
	}
	wg.Wait()

	n, _ := m.InFlight(ctx, "u1")
	if n != 1 {
		t.Errorf("Expected 1 in flight, got %d", n)
	}
}

func TestManager_TTLRecoversLeakedSlots(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStoreWithConfig(storage.MemoryConfig{Clock: func() time.Time { return now }})
	defer store.Close()
	m := NewManager(store)
	ctx := context.Background()

	// Holder crashes without releasing.
	m.Acquire(ctx, "u1", 1, time.Minute)
	if _, ok, _ := m.Acquire(ctx, "u1", 1, time.Minute); ok {
		t.Fatal("Expected slot to be held")
	}

	now = now.Add(time.Minute)
	if _, ok, _ := m.Acquire(ctx, "u1", 1, time.Minute); !ok {
		t.Error("Expected leaked slot to be reclaimed by ttl")
	}
}

func TestSlot_NilReleaseIsSafe(t *testing.T) {
	var s *Slot
	s.Release()
}
