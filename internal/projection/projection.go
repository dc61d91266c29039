// Package projection implements materialized views folded from the event
// log, including the mandatory AllBeads view the Reconciler diffs against.
package projection

import (
	"sync"

	"github.com/lprior-repo/oya-sub008/internal/events"
	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// Projection is a pure fold: Initial seeds the zero state, Apply folds one
// event into a new state. Implementations must not mutate the store or
// perform I/O.
type Projection[S any] interface {
	Initial() S
	Apply(state S, e events.Event) S
}

// ManagedProjection pairs a Projection with a durable high-water mark so
// catch-up is idempotent: reapplying already-applied events (indexed by
// EventID) is a no-op.
type ManagedProjection[S any] struct {
	mu         sync.RWMutex
	proj       Projection[S]
	state      S
	lastApplied ids.EventID
}

// NewManaged constructs a managed projection at its initial state.
func NewManaged[S any](p Projection[S]) *ManagedProjection[S] {
	return &ManagedProjection[S]{proj: p, state: p.Initial()}
}

// State returns the current folded state.
func (m *ManagedProjection[S]) State() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastApplied returns the EventID watermark.
func (m *ManagedProjection[S]) LastApplied() ids.EventID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastApplied
}

// CatchUp reads store forward from the watermark and folds every new event
// in EventID order, advancing the watermark. Safe to call repeatedly or
// concurrently with new appends; it only ever moves forward.
func (m *ManagedProjection[S]) CatchUp(store *events.InMemoryStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range store.AllSince(m.lastApplied) {
		if e.EventID <= m.lastApplied {
			continue // idempotent: already folded
		}
		m.state = m.proj.Apply(m.state, e)
		m.lastApplied = e.EventID
	}
}

// ApplyOne folds a single already-ordered event (used when wired to a live
// Bus subscription rather than a polling CatchUp).
func (m *ManagedProjection[S]) ApplyOne(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastApplied.IsZero() && e.EventID <= m.lastApplied {
		return
	}
	m.state = m.proj.Apply(m.state, e)
	m.lastApplied = e.EventID
}

// Reset restores the projection to its initial state and zero watermark, for
// full replay from genesis.
func (m *ManagedProjection[S]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.proj.Initial()
	m.lastApplied = ""
}
