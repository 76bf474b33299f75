package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Result is the outcome of loading one storage.
type Result struct {
	Storage Storage
	Payload Payload
	Err     error
}

// Registry holds the storages in priority order and tracks which one
// receives writes.
type Registry struct {
	mu       sync.RWMutex
	storages []Storage
	write    Storage
}

// NewRegistry creates a registry over the given storages, highest priority
// first.
func NewRegistry(storages ...Storage) *Registry {
	return &Registry{storages: storages}
}

// Add appends a storage with the lowest priority.
func (r *Registry) Add(s Storage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storages = append(r.storages, s)
}

// Storages returns the registered storages in priority order.
func (r *Registry) Storages() []Storage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Storage, len(r.storages))
	copy(out, r.storages)
	return out
}

// Get returns the storage with the given name.
func (r *Registry) Get(name string) (Storage, bool) {
	return lo.Find(r.Storages(), func(s Storage) bool { return s.Name() == name })
}

// InitAll initialises every storage. Storages that fail are marked
// inaccessible and logged; they never abort the others.
func (r *Registry) InitAll(ctx context.Context) {
	for _, s := range r.Storages() {
		if err := s.Init(ctx); err != nil {
			slog.Warn("Storage: init failed, marking inaccessible", "storage", s.Name(), "error", err)
			s.SetCanAccess(false)
		}
	}
}

// LoadAll reads every accessible storage, in priority order.
func (r *Registry) LoadAll(ctx context.Context) []Result {
	var results []Result
	for _, s := range r.Storages() {
		if !s.CanAccess() {
			continue
		}
		p, err := s.GetAll(ctx)
		if err != nil {
			slog.Warn("Storage: load failed", "storage", s.Name(), "error", err)
		}
		results = append(results, Result{Storage: s, Payload: p, Err: err})
	}
	return results
}

// SelectWriteStorage makes the first accessible, writable storage of type t
// the write storage. The previous write storage is flagged for clearing when
// it changes.
func (r *Registry) SelectWriteStorage(t Type) (Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, ok := lo.Find(r.storages, func(s Storage) bool {
		return s.Type() == t && !s.ReadOnly() && s.CanAccess()
	})
	if !ok {
		return nil, fmt.Errorf("%w: type %s", ErrNoWriteStorage, t)
	}

	if r.write != nil && r.write != next {
		r.write.SetNeedsCleared(true)
	}
	next.SetNeedsCleared(false)
	r.write = next
	return next, nil
}

// WriteStorage returns the current write storage, or nil.
func (r *Registry) WriteStorage() Storage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.write
}

// ClearWriteStorage drops the write designation.
func (r *Registry) ClearWriteStorage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write = nil
}

// ClearStale clears every accessible storage flagged as holding settings it
// no longer owns. Failures are logged and left flagged for the next attempt.
func (r *Registry) ClearStale(ctx context.Context) {
	write := r.WriteStorage()
	for _, s := range r.Storages() {
		if s == write || s.ReadOnly() || !s.NeedsCleared() || !s.CanAccess() {
			continue
		}
		if err := s.Clear(ctx); err != nil {
			slog.Warn("Storage: failed to clear stale storage", "storage", s.Name(), "error", err)
			continue
		}
		s.SetNeedsCleared(false)
		slog.Debug("Storage: cleared stale storage", "storage", s.Name())
	}
}
