package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the persisted document in memory. It exists for tests
// and intentionally favors clarity over performance.
type MemoryStore struct {
	mu       sync.Mutex
	state    *State
	saves    int
	failNext error
}

// NewMemoryStore returns an empty in-memory persister.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return NewState(), nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.state = state.Clone()
	m.saves++
	return nil
}

// Saves reports how many successful saves occurred, for asserting the
// one-save-per-transaction contract.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailNextSave makes the next Save return err, for persistence-abort tests.
func (m *MemoryStore) FailNextSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}
