// Package store implements the persistence layer: a single versioned JSON
// document holding every verification collection, written atomically with
// bounded backup rotation. Stores are interface-driven so tests can run on
// the in-memory implementation without touching disk.
package store

import (
	"context"
	"log/slog"
	"sync"

	dErrors "warden/pkg/domain-errors"
)

// Persister loads and durably saves the full state document.
type Persister interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// Manager owns the in-memory state and serializes every load-modify-save
// cycle behind one lock. One logical transaction equals one Update call and
// one durable save; a failed save leaves the visible state untouched.
type Manager struct {
	mu        sync.RWMutex
	persister Persister
	state     *State
	logger    *slog.Logger
	onSave    func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSaveHook registers a callback invoked after every successful save,
// used for metrics.
func WithSaveHook(fn func()) ManagerOption {
	return func(m *Manager) { m.onSave = fn }
}

// NewManager loads the initial state through the persister. A corrupt or
// missing document degrades to empty collections inside the persister, so
// startup never fails on bad data.
func NewManager(ctx context.Context, persister Persister, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	state, err := persister.Load(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "load initial state")
	}
	state.normalize()
	m := &Manager{persister: persister, state: state, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// View runs fn with read access to the current state. fn must not retain
// references past its return.
func (m *Manager) View(fn func(*State)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

// Update runs fn against a working copy and persists the result. The copy is
// swapped in only after the durable write succeeds, so partial mutations are
// never visible to readers or to subsequent transactions.
func (m *Manager) Update(ctx context.Context, fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.Clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := m.persister.Save(ctx, working); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "save state")
	}
	m.state = working
	if m.onSave != nil {
		m.onSave()
	}
	return nil
}
