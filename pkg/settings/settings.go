// Package settings owns the merged workbench configuration. Values come from
// an ordered registry of storages: user preferences live per namespace,
// admin config from read-only storages overrides them and is never written
// back. Changes are tracked as deltas, saved to the single write storage after
// a quiet period and announced to other contexts through a peer.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"workbench/pkg/alert"
	"workbench/pkg/delay"
	"workbench/pkg/event"
	"workbench/pkg/peer"
	"workbench/pkg/settings/storage"
	"workbench/pkg/settings/tree"
	"workbench/pkg/store"
)

var (
	// ErrNotLoaded is the panic value of reads and writes before Load.
	ErrNotLoaded = errors.New("settings: not loaded")
	// ErrNotInitialized is returned by Load before Init.
	ErrNotInitialized = errors.New("settings: not initialized")
)

const (
	// WriteTypeKey is the setting holding the write storage type.
	WriteTypeKey = "storage.writeType"
	// ResetKey holds the time of the last reset in epoch milliseconds.
	ResetKey = "reset"

	// StateWriteType and StateReset are the raw state backups of the two
	// keys above.
	StateWriteType = "settings.writeType"
	StateReset     = "settings.reset"
)

// Source tells where a resolved value comes from.
type Source int

const (
	SourceNone Source = iota
	SourcePreference
	SourceAdmin
)

func (s Source) String() string {
	switch s {
	case SourcePreference:
		return "preference"
	case SourceAdmin:
		return "admin"
	}
	return "none"
}

// Resolved is a value together with its source. Admin values always win and
// are never persisted.
type Resolved struct {
	Source Source
	Value  any
}

// ChangeEvent describes one setting change.
type ChangeEvent struct {
	Key       string
	Path      tree.Path
	Namespace string
	NewValue  any
	OldValue  any
	// Remote is set for changes replayed from another context.
	Remote bool
}

// Options configures an Engine.
type Options struct {
	AppNamespace     string
	CoreNamespace    string
	CoreKeys         []string
	WriteStorageType storage.Type
	SaveDelay        time.Duration
	ReloadDelay      time.Duration
	MaxStorageFails  int

	// Transport connects the peer. Nil gives the engine a private hub.
	Transport peer.Transport
	// State receives raw backups of the write storage type and reset time.
	State  store.StateStore
	Alerts alert.Sender
}

func (o *Options) withDefaults() {
	if o.AppNamespace == "" {
		o.AppNamespace = "workbench"
	}
	if o.CoreNamespace == "" {
		o.CoreNamespace = "core"
	}
	if len(o.CoreKeys) == 0 {
		o.CoreKeys = []string{"storage", ResetKey}
	}
	if o.WriteStorageType == "" {
		o.WriteStorageType = storage.TypeLocal
	}
	if o.SaveDelay <= 0 {
		o.SaveDelay = 500 * time.Millisecond
	}
	if o.ReloadDelay <= 0 {
		o.ReloadDelay = 500 * time.Millisecond
	}
	if o.MaxStorageFails <= 0 {
		o.MaxStorageFails = 10
	}
	if o.Alerts == nil {
		o.Alerts = alert.Discard{}
	}
}

// Engine is the settings store.
type Engine struct {
	opts   Options
	reg    *storage.Registry
	events *event.Target[ChangeEvent]

	mu          sync.Mutex
	initialized bool
	loaded      bool
	peer        *peer.Peer
	ownHub      *peer.Hub

	merged     map[string]any
	preference map[string]map[string]any
	admin      map[string]any
	delta      map[string]map[string]any
	deletes    []tree.Path
	changed    bool

	persist     bool
	writeType   storage.Type
	typeChanged bool
	failures    map[storage.Type]int

	notifications []peer.Message
	queued        []peer.Message

	saveDelay   *delay.Delay
	reloadDelay *delay.Delay
}

// New creates an engine over reg. Call Init, then Load, before use.
func New(reg *storage.Registry, opts Options) *Engine {
	opts.withDefaults()
	e := &Engine{
		opts:       opts,
		reg:        reg,
		events:     event.NewTarget[ChangeEvent](),
		merged:     map[string]any{},
		preference: map[string]map[string]any{},
		admin:      map[string]any{},
		delta:      map[string]map[string]any{},
		failures:   map[storage.Type]int{},
	}
	e.saveDelay = delay.New(func() {
		if err := e.Save(context.Background()); err != nil {
			slog.Warn("Settings: deferred save failed", "error", err)
		}
	}, opts.SaveDelay)
	e.reloadDelay = delay.New(func() {
		if err := e.reload(context.Background()); err != nil {
			slog.Warn("Settings: reload failed", "error", err)
		}
	}, opts.ReloadDelay)
	return e
}

// Init connects the peer and initialises every storage. A second call is a
// no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		slog.Info("Settings: already initialized")
		return nil
	}
	e.initialized = true

	t := e.opts.Transport
	if t == nil {
		e.ownHub = peer.NewHub()
		t = e.ownHub
	}
	e.peer = peer.New(t)
	e.peer.AddProcessor(e)
	e.mu.Unlock()

	e.reg.InitAll(ctx)
	slog.Debug("Settings: initialized", "peer", e.peer.ID(), "storages", len(e.reg.Storages()))
	return nil
}

// Peer returns the cross-context peer, nil before Init.
func (e *Engine) Peer() *peer.Peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

// Load reads every storage, builds the merged tree and selects the write
// storage. Storages that fail to load are skipped with a warning alert.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	initialized := e.initialized
	e.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	results := e.reg.LoadAll(ctx)
	failed := lo.FilterMap(results, func(r storage.Result, _ int) (string, bool) {
		return r.Storage.Name(), r.Err != nil
	})
	for _, s := range e.reg.Storages() {
		if !s.CanAccess() {
			failed = append(failed, s.Name())
		}
	}

	e.mu.Lock()
	e.rebuild(results)
	e.loaded = true
	wt := e.initialWriteType(ctx)
	e.mu.Unlock()

	if len(failed) > 0 {
		e.opts.Alerts.SendAlert("Failed to load settings from: "+strings.Join(lo.Uniq(failed), ", "), alert.SeverityWarning)
	}

	if err := e.SetWriteStorageType(ctx, wt, false); err != nil {
		slog.Warn("Settings: running without persistence", "error", err)
	}
	slog.Info("Settings: loaded", "write_type", wt, "storages", len(results))
	return nil
}

// initialWriteType picks the stored type, then the raw backup, then the
// configured default. Caller holds e.mu.
func (e *Engine) initialWriteType(ctx context.Context) storage.Type {
	if v, ok := tree.Get(e.merged, tree.ParsePath(WriteTypeKey)); ok {
		if s, ok := v.(string); ok {
			if t, err := storage.ParseType(s); err == nil {
				return t
			}
		}
	}
	if e.opts.State != nil {
		if s, ok := e.opts.State.GetState(ctx, StateWriteType); ok {
			if t, err := storage.ParseType(s); err == nil {
				return t
			}
		}
	}
	return e.opts.WriteStorageType
}

// rebuild replaces preference, admin and merged state with the storage
// payloads. results are in priority order; earlier storages win. Caller
// holds e.mu.
func (e *Engine) rebuild(results []storage.Result) {
	pref := map[string]map[string]any{}
	admin := map[string]any{}
	namespaces := e.Types()

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Err != nil {
			continue
		}
		for _, ns := range namespaces {
			m, ok := tree.Normalize(r.Payload.Preference[ns]).(map[string]any)
			if !ok {
				continue
			}
			if pref[ns] == nil {
				pref[ns] = map[string]any{}
			}
			tree.Merge(pref[ns], m)
		}
		if cfg, ok := tree.Normalize(r.Payload.Config).(map[string]any); ok {
			tree.Merge(admin, cfg)
		}
	}

	e.preference = pref
	e.admin = admin
	e.remerge()
}

// remerge recomputes merged from preference then admin. Caller holds e.mu.
func (e *Engine) remerge() {
	merged := map[string]any{}
	for _, ns := range e.Types() {
		if m := e.preference[ns]; m != nil {
			tree.Merge(merged, m)
		}
	}
	tree.Merge(merged, e.admin)
	e.merged = merged
}

// IsLoaded reports whether Load has completed.
func (e *Engine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// lockLoaded takes e.mu and panics with ErrNotLoaded, lock released, when
// Load has not completed.
func (e *Engine) lockLoaded() {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		panic(ErrNotLoaded)
	}
}

// namespaceFor routes a path to the core or the application namespace.
func (e *Engine) namespaceFor(p tree.Path) string {
	if len(p) > 0 && lo.Contains(e.opts.CoreKeys, p[0]) {
		return e.opts.CoreNamespace
	}
	return e.opts.AppNamespace
}

// Get returns a copy of the value at the dotted key, or def.
func (e *Engine) Get(key string, def any) any {
	return e.GetPath(tree.ParsePath(key), def)
}

// GetPath returns a copy of the value at p, or def when nothing is stored
// there. A stored null is returned as nil. It panics with ErrNotLoaded
// before Load.
func (e *Engine) GetPath(p tree.Path, def any) any {
	e.lockLoaded()
	defer e.mu.Unlock()

	v, ok := tree.Get(e.merged, p)
	if !ok {
		return def
	}
	return tree.Clone(v)
}

func (e *Engine) GetString(key, def string) string {
	if s, ok := e.Get(key, nil).(string); ok {
		return s
	}
	return def
}

func (e *Engine) GetFloat(key string, def float64) float64 {
	if f, ok := e.Get(key, nil).(float64); ok {
		return f
	}
	return def
}

func (e *Engine) GetInt(key string, def int) int {
	if f, ok := e.Get(key, nil).(float64); ok {
		return int(f)
	}
	return def
}

func (e *Engine) GetBool(key string, def bool) bool {
	if b, ok := e.Get(key, nil).(bool); ok {
		return b
	}
	return def
}

// Resolve reports where the value at the dotted key comes from.
func (e *Engine) Resolve(key string) Resolved {
	p := tree.ParsePath(key)
	e.lockLoaded()
	defer e.mu.Unlock()
	return e.resolve(p)
}

func (e *Engine) resolve(p tree.Path) Resolved {
	v, _ := tree.Get(e.merged, p)
	if _, ok := tree.Get(e.admin, p); ok {
		return Resolved{Source: SourceAdmin, Value: tree.Clone(v)}
	}
	if _, ok := tree.Get(e.preference[e.namespaceFor(p)], p); ok {
		return Resolved{Source: SourcePreference, Value: tree.Clone(v)}
	}
	return Resolved{Source: SourceNone}
}

// Snapshot returns a copy of the merged tree.
func (e *Engine) Snapshot() map[string]any {
	e.lockLoaded()
	defer e.mu.Unlock()
	return tree.CloneMap(e.merged)
}

// Listen registers fn for changes of exactly the dotted key.
func (e *Engine) Listen(key string, fn func(ChangeEvent)) func() {
	return e.events.Listen(tree.ParsePath(key).String(), fn)
}

// OnChange registers fn for every change.
func (e *Engine) OnChange(fn func(ChangeEvent)) func() {
	return e.events.ListenAll(fn)
}

func (e *Engine) dispatch(evs ...ChangeEvent) {
	for _, ev := range evs {
		e.events.Dispatch(ev.Key, ev)
	}
}

// Close stops pending timers and disconnects the peer. Unsaved changes are
// dropped; call Flush first to keep them.
func (e *Engine) Close() {
	e.saveDelay.Dispose()
	e.reloadDelay.Dispose()

	e.mu.Lock()
	p, hub := e.peer, e.ownHub
	e.mu.Unlock()

	if p != nil {
		p.Close()
	}
	if hub != nil {
		hub.Close()
	}
	e.events.RemoveAll()
}
