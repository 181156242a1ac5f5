package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps events in a map keyed by request ID.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*Event),
		now:    time.Now,
	}
}

// Record implements Store.
func (s *MemoryStore) Record(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[ev.RequestID]; exists {
		return nil
	}

	stored := *ev
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.RecordedAt.IsZero() {
		stored.RecordedAt = s.now()
	}
	s.events[ev.RequestID] = &stored
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, requestID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *ev
	return &out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events)), nil
}

// Events returns a copy of every stored event, oldest first.
func (s *MemoryStore) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

// DeleteBefore implements Store.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, ev := range s.events {
		if ev.RecordedAt.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

// TrimTo implements Store.
func (s *MemoryStore) TrimTo(ctx context.Context, keep int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := int64(len(s.events)) - keep
	if excess <= 0 {
		return 0, nil
	}

	ordered := make([]*Event, 0, len(s.events))
	for _, ev := range s.events {
		ordered = append(ordered, ev)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RecordedAt.Before(ordered[j].RecordedAt)
	})
	for _, ev := range ordered[:excess] {
		delete(s.events, ev.RequestID)
	}
	return excess, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
