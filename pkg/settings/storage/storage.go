// Package storage defines the settings backends and the registry that picks
// the single backend settings are written to.
package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"workbench/pkg/settings/tree"
)

// Type designates where a write storage keeps its data.
type Type string

const (
	TypeLocal  Type = "local"
	TypeRemote Type = "remote"
)

// ParseType maps user input onto a Type.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeLocal:
		return TypeLocal, nil
	case TypeRemote:
		return TypeRemote, nil
	}
	return "", ErrUnknownType
}

var (
	// ErrNoWriteStorage indicates no accessible storage of the requested type.
	ErrNoWriteStorage = errors.New("no accessible write storage")
	// ErrReadOnly is returned by storages that only provide admin config.
	ErrReadOnly = errors.New("storage is read-only")
	// ErrUnknownType indicates an unsupported storage type.
	ErrUnknownType = errors.New("unknown storage type")
	// ErrInvalidValue indicates an item that is not a settings tree.
	ErrInvalidValue = errors.New("item value must be an object")
)

// Payload is what a storage contributes when loaded. Preference maps a
// namespace to its user-writable tree; Config is the admin tree.
type Payload struct {
	Preference map[string]any `json:"preference,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// Storage is a settings backend.
type Storage interface {
	Name() string
	Type() Type
	Init(ctx context.Context) error

	CanAccess() bool
	SetCanAccess(bool)
	// CanInsertDeltas reports whether SetSettings merges its input into
	// what is stored rather than replacing it.
	CanInsertDeltas() bool
	// NeedsCleared is set once a storage held settings but stopped being
	// the write storage.
	NeedsCleared() bool
	SetNeedsCleared(bool)
	ReadOnly() bool

	GetAll(ctx context.Context) (Payload, error)
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, replace bool) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// SetSettings persists prefs (namespace -> tree) after removing every
	// path in deletes. Each delete path starts with its namespace.
	SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error
}

// Base carries the bookkeeping every backend shares.
type Base struct {
	mu           sync.RWMutex
	name         string
	typ          Type
	canAccess    bool
	needsCleared bool
	deltas       bool
	readOnly     bool
}

// NewBase creates the shared state for a backend.
func NewBase(name string, typ Type, deltas bool) *Base {
	return &Base{name: name, typ: typ, deltas: deltas, canAccess: true}
}

func (b *Base) Name() string          { return b.name }
func (b *Base) Type() Type            { return b.typ }
func (b *Base) CanInsertDeltas() bool { return b.deltas }
func (b *Base) ReadOnly() bool        { return b.readOnly }

func (b *Base) CanAccess() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.canAccess
}

func (b *Base) SetCanAccess(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canAccess = v
}

func (b *Base) NeedsCleared() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.needsCleared
}

func (b *Base) SetNeedsCleared(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.needsCleared = v
}

// splitDelete separates the namespace from the rest of a delete path.
func splitDelete(p tree.Path) (ns string, rest tree.Path, ok bool) {
	if len(p) == 0 {
		return "", nil, false
	}
	return p[0], p[1:], true
}

// applyToTrees removes deletes and merges prefs into the namespace trees.
func applyToTrees(dst map[string]any, prefs map[string]any, deletes []tree.Path) {
	for _, p := range deletes {
		ns, rest, ok := splitDelete(p)
		if !ok {
			continue
		}
		if len(rest) == 0 {
			delete(dst, ns)
			continue
		}
		if nsTree, ok := dst[ns].(map[string]any); ok {
			tree.Delete(nsTree, rest)
		}
	}
	for ns, v := range prefs {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		existing, ok := dst[ns].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[ns] = existing
		}
		tree.Merge(existing, m)
	}
}

// stripNil drops nil leaves so formats without a null literal can encode
// the tree.
func stripNil(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			continue
		case map[string]any:
			out[k] = stripNil(t)
		default:
			out[k] = t
		}
	}
	return out
}
