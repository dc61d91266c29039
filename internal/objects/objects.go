// Package objects implements virtual objects: a per-ObjectId K/V store
// guarded by a single-writer lock, a specialization of the actor model
// included for completeness.
package objects

import (
	"context"
	"sync"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// IsolationLevel labels an object's read visibility. The level is stored on
// the object but not consulted: every guarded access is serialized by the
// object's lock regardless of the level, so both levels behave as
// Serializable.
type IsolationLevel int

const (
	// Serializable gives every guarded access a consistent, non-interleaved
	// view of the object's K/V state.
	Serializable IsolationLevel = iota
	// ReadCommitted allows reads to observe concurrent committed writes
	// between their own operations.
	ReadCommitted
)

// ObjectLock ensures only one message is processed per object at a time.
type ObjectLock struct {
	mu sync.Mutex
}

// Acquire blocks until the lock is free or ctx is cancelled, returning a
// release function.
func (l *ObjectLock) Acquire(ctx context.Context) (func(), error) {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		return l.mu.Unlock, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// Object is a single ObjectId's K/V store.
type Object struct {
	ID        ids.ObjectID
	Isolation IsolationLevel

	lock ObjectLock
	data map[string]any
}

// NewObject constructs an empty object under the given isolation level.
func NewObject(id ids.ObjectID, isolation IsolationLevel) *Object {
	return &Object{ID: id, Isolation: isolation, data: make(map[string]any)}
}

// Guard runs fn while holding the object's lock, giving fn exclusive access
// to the object's K/V map.
func (o *Object) Guard(ctx context.Context, fn func(kv map[string]any)) error {
	release, err := o.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	fn(o.data)
	return nil
}

// Snapshot returns a shallow copy of the object's current K/V state, for
// periodic recovery snapshots.
func (o *Object) Snapshot() map[string]any {
	release, _ := o.lock.Acquire(context.Background())
	defer release()
	out := make(map[string]any, len(o.data))
	for k, v := range o.data {
		out[k] = v
	}
	return out
}

// Registry holds every live Object, keyed by id.
type Registry struct {
	mu      sync.Mutex
	objects map[ids.ObjectID]*Object
}

// NewRegistry constructs an empty object registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[ids.ObjectID]*Object)}
}

// GetOrCreate returns the object for id, creating it under isolation if absent.
func (r *Registry) GetOrCreate(id ids.ObjectID, isolation IsolationLevel) *Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.objects[id]; ok {
		return o
	}
	o := NewObject(id, isolation)
	r.objects[id] = o
	return o
}
