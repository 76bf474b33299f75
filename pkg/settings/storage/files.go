package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"workbench/pkg/settings/tree"
)

// TOMLFile keeps every namespace as a top-level table of one TOML file. The
// file is rewritten whole on each save, so it never accepts deltas.
type TOMLFile struct {
	*Base

	mu   sync.Mutex
	path string
}

// NewTOMLFile creates a local storage backed by the file at path.
func NewTOMLFile(name, path string) *TOMLFile {
	return &TOMLFile{Base: NewBase(name, TypeLocal, false), path: path}
}

// Path returns the backing file.
func (f *TOMLFile) Path() string { return f.path }

func (f *TOMLFile) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return nil
}

func (f *TOMLFile) read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	m, ok := tree.Normalize(raw).(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return m, nil
}

func (f *TOMLFile) write(m map[string]any) error {
	data, err := toml.Marshal(stripNil(m))
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *TOMLFile) GetAll(ctx context.Context) (Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return Payload{}, err
	}
	return Payload{Preference: m}, nil
}

func (f *TOMLFile) Get(ctx context.Context, key string) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *TOMLFile) Set(ctx context.Context, key string, value any, replace bool) error {
	v, ok := tree.Normalize(value).(map[string]any)
	if !ok {
		return ErrInvalidValue
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return err
	}
	if existing, ok := m[key].(map[string]any); ok && !replace {
		tree.Merge(existing, v)
	} else {
		m[key] = v
	}
	return f.write(m)
}

func (f *TOMLFile) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return f.write(m)
}

func (f *TOMLFile) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove settings file: %w", err)
	}
	return nil
}

// SetSettings replaces the namespaces present in prefs. Deletes only matter
// for namespaces that are not being rewritten.
func (f *TOMLFile) SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return err
	}
	for _, p := range deletes {
		ns, rest, ok := splitDelete(p)
		if !ok {
			continue
		}
		if _, rewritten := prefs[ns]; rewritten {
			continue
		}
		if len(rest) == 0 {
			delete(m, ns)
		} else if nsTree, ok := m[ns].(map[string]any); ok {
			tree.Delete(nsTree, rest)
		}
	}
	for ns, v := range prefs {
		m[ns] = tree.Clone(v)
	}
	return f.write(m)
}

// AdminFile serves the read-only admin config partition from a YAML file.
// A missing file yields an empty partition.
type AdminFile struct {
	*Base
	path string
}

// NewAdminFile creates a read-only storage over the YAML file at path.
func NewAdminFile(name, path string) *AdminFile {
	b := NewBase(name, TypeLocal, false)
	b.readOnly = true
	return &AdminFile{Base: b, path: path}
}

func (a *AdminFile) Init(ctx context.Context) error { return nil }

func (a *AdminFile) GetAll(ctx context.Context) (Payload, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Payload{}, nil
		}
		return Payload{}, fmt.Errorf("read admin config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Payload{}, fmt.Errorf("parse admin config: %w", err)
	}
	cfg, _ := tree.Normalize(raw).(map[string]any)
	return Payload{Config: cfg}, nil
}

func (a *AdminFile) Get(ctx context.Context, key string) (any, bool, error) {
	p, err := a.GetAll(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := p.Config[key]
	return v, ok, nil
}

func (a *AdminFile) Set(ctx context.Context, key string, value any, replace bool) error {
	return ErrReadOnly
}

func (a *AdminFile) Remove(ctx context.Context, key string) error { return ErrReadOnly }
func (a *AdminFile) Clear(ctx context.Context) error              { return ErrReadOnly }

func (a *AdminFile) SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error {
	return ErrReadOnly
}
