package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps events in process memory. Used by tests and as the
// fallback when no audit DSN is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]Event)}
}

// Append stores the event under its subject.
func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.Subject] = append(s.events[event.Subject], event)
	return nil
}

// ListBySubject returns the events recorded for a subject in append order.
func (s *MemoryStore) ListBySubject(_ context.Context, subject string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[subject]...), nil
}
