package storage

import (
	"context"
	"sync"

	"workbench/pkg/settings/tree"
)

// Memory keeps settings in process memory. It backs tests and short-lived
// sessions that must not touch disk.
type Memory struct {
	*Base

	mu       sync.Mutex
	items    map[string]any
	config   map[string]any
	writeErr error
	loadErr  error
	writes   int
}

// NewMemory creates an empty in-memory storage of the given type.
func NewMemory(name string, typ Type) *Memory {
	return &Memory{
		Base:  NewBase(name, typ, true),
		items: make(map[string]any),
	}
}

func (m *Memory) Init(ctx context.Context) error { return nil }

// SetConfig installs an admin tree returned from GetAll.
func (m *Memory) SetConfig(cfg map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = tree.CloneMap(cfg)
}

// FailWrites makes every later write return err. A nil err restores normal
// behaviour.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailLoads makes GetAll return err.
func (m *Memory) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// Writes returns the number of SetSettings calls that reached the storage.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) GetAll(ctx context.Context) (Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return Payload{}, m.loadErr
	}
	p := Payload{Preference: tree.CloneMap(m.items)}
	if m.config != nil {
		p.Config = tree.CloneMap(m.config)
	}
	return p, nil
}

func (m *Memory) Get(ctx context.Context, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return tree.Clone(v), ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, value any, replace bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}

	v := tree.Normalize(value)
	src, isMap := v.(map[string]any)
	dst, hasMap := m.items[key].(map[string]any)
	if !replace && isMap && hasMap {
		tree.Merge(dst, src)
		return nil
	}
	m.items[key] = v
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	delete(m.items, key)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.items = make(map[string]any)
	return nil
}

func (m *Memory) SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	applyToTrees(m.items, tree.CloneMap(prefs), deletes)
	return nil
}
