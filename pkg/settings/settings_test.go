package settings

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workbench/pkg/alert"
	"workbench/pkg/peer"
	"workbench/pkg/settings/storage"
	"workbench/pkg/settings/tree"
	"workbench/pkg/store"
)

// recordingStorage captures every SetSettings call on top of a Memory.
type recordingStorage struct {
	*storage.Memory
	deltas bool

	mu       sync.Mutex
	inits    int
	payloads []map[string]any
	deletes  [][]tree.Path
}

func newRecording(name string, typ storage.Type, deltas bool) *recordingStorage {
	return &recordingStorage{Memory: storage.NewMemory(name, typ), deltas: deltas}
}

func (r *recordingStorage) Init(ctx context.Context) error {
	r.mu.Lock()
	r.inits++
	r.mu.Unlock()
	return r.Memory.Init(ctx)
}

func (r *recordingStorage) CanInsertDeltas() bool { return r.deltas }

func (r *recordingStorage) SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error {
	r.mu.Lock()
	r.payloads = append(r.payloads, tree.CloneMap(prefs))
	r.deletes = append(r.deletes, deletes)
	r.mu.Unlock()
	return r.Memory.SetSettings(ctx, prefs, deletes)
}

func (r *recordingStorage) last() (map[string]any, []tree.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil, nil
	}
	return r.payloads[len(r.payloads)-1], r.deletes[len(r.deletes)-1]
}

func newEngine(t *testing.T, opts Options, storages ...storage.Storage) *Engine {
	t.Helper()
	if opts.SaveDelay == 0 {
		// tests save explicitly
		opts.SaveDelay = time.Hour
	}
	e := New(storage.NewRegistry(storages...), opts)
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))
	require.NoError(t, e.Load(ctx))
	t.Cleanup(e.Close)
	return e
}

func TestEngine_Lifecycle(t *testing.T) {
	e := New(storage.NewRegistry(storage.NewMemory("mem", storage.TypeLocal)), Options{})
	defer e.Close()

	assert.ErrorIs(t, e.Load(context.Background()), ErrNotInitialized)
	assert.False(t, e.IsLoaded())

	assert.PanicsWithValue(t, ErrNotLoaded, func() { e.Get("a", nil) })
	assert.PanicsWithValue(t, ErrNotLoaded, func() { e.Set("a", 1, false) })
	assert.PanicsWithValue(t, ErrNotLoaded, func() { e.Delete("a") })

	require.NoError(t, e.Init(context.Background()))
	require.NoError(t, e.Load(context.Background()))
	assert.True(t, e.IsLoaded())
	assert.Equal(t, "fallback", e.Get("a", "fallback"))
}

func TestEngine_InitIsIdempotent(t *testing.T) {
	rec := newRecording("mem", storage.TypeLocal, true)
	e := New(storage.NewRegistry(rec), Options{})
	defer e.Close()

	ctx := context.Background()
	require.NoError(t, e.Init(ctx))
	first := e.Peer()
	require.NoError(t, e.Init(ctx))

	assert.Same(t, first, e.Peer())
	assert.Equal(t, 1, rec.inits)
}

func TestEngine_GetReturnsCopies(t *testing.T) {
	e := newEngine(t, Options{}, storage.NewMemory("mem", storage.TypeLocal))

	tests := []struct {
		name  string
		key   string
		value any
		want  any
	}{
		{"Scalar", "map.zoom", 4, 4.0},
		{"String", "map.name", "osm", "osm"},
		{"List", "map.layers", []string{"a", "b"}, []any{"a", "b"}},
		{"Object", "map.center", map[string]any{"lat": 1, "lon": 2}, map[string]any{"lat": 1.0, "lon": 2.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.Set(tt.key, tt.value, false)
			got := e.Get(tt.key, nil)
			assert.Equal(t, tt.want, got)

			switch v := got.(type) {
			case []any:
				v[0] = "mutated"
			case map[string]any:
				v["lat"] = 99.0
			}
			assert.Equal(t, tt.want, e.Get(tt.key, nil), "mutating a result must not leak")
		})
	}

	assert.Equal(t, 4, e.GetInt("map.zoom", 0))
	assert.Equal(t, 4.0, e.GetFloat("map.zoom", 0))
	assert.Equal(t, "osm", e.GetString("map.name", ""))
	assert.True(t, e.GetBool("map.missing", true))
}

func TestEngine_GetStoredNull(t *testing.T) {
	e := newEngine(t, Options{}, storage.NewMemory("mem", storage.TypeLocal))

	e.Set("map.overlay", nil, false)
	assert.Nil(t, e.Get("map.overlay", "default"), "a stored null is not undefined")
	assert.Equal(t, "default", e.Get("map.missing", "default"))

	e.Delete("map.overlay")
	assert.Equal(t, "default", e.Get("map.overlay", "default"))
}

func TestEngine_SetTwiceLastWriteWins(t *testing.T) {
	e := newEngine(t, Options{}, storage.NewMemory("mem", storage.TypeLocal))

	var events []ChangeEvent
	e.Listen("a.b", func(ev ChangeEvent) { events = append(events, ev) })

	e.Set("a.b", 1, false)
	e.Set("a.b", 2, false)

	require.Len(t, events, 2)
	assert.Nil(t, events[0].OldValue)
	assert.Equal(t, 1.0, events[1].OldValue)
	assert.Equal(t, 2.0, events[1].NewValue)

	got, ok := tree.Get(e.delta["workbench"], tree.ParsePath("a.b"))
	require.True(t, ok)
	assert.Equal(t, 2.0, got)
}

func TestEngine_UnchangedValueIsQuiet(t *testing.T) {
	e := newEngine(t, Options{}, storage.NewMemory("mem", storage.TypeLocal))

	count := 0
	e.OnChange(func(ChangeEvent) { count++ })

	e.Set("obj", map[string]any{"x": 1}, false)
	e.Set("obj", map[string]any{"x": 1.0}, false)
	assert.Equal(t, 1, count, "deep-equal objects are not a change")
}

func TestEngine_AdminKeys(t *testing.T) {
	admin := storage.NewMemory("admin", storage.TypeLocal)
	admin.SetConfig(map[string]any{"map": map[string]any{"zoom": 3}})
	user := storage.NewMemory("user", storage.TypeLocal)
	require.NoError(t, user.SetSettings(context.Background(),
		map[string]any{"workbench": map[string]any{"map": map[string]any{"zoom": 9, "style": "dark"}}}, nil))

	e := newEngine(t, Options{}, admin, user)

	assert.Equal(t, 3.0, e.Get("map.zoom", nil), "admin config wins over preference")
	assert.Equal(t, SourceAdmin, e.Resolve("map.zoom").Source)
	assert.Equal(t, SourcePreference, e.Resolve("map.style").Source)
	assert.Equal(t, SourceNone, e.Resolve("map.none").Source)

	count := 0
	e.Listen("map.zoom", func(ChangeEvent) { count++ })
	e.Set("map.zoom", 5, false)
	assert.Equal(t, 5.0, e.Get("map.zoom", nil))
	assert.Equal(t, 1, count)

	_, inDelta := tree.Get(e.delta["workbench"], tree.ParsePath("map.zoom"))
	assert.False(t, inDelta)
	prefZoom, _ := tree.Get(e.preference["workbench"], tree.ParsePath("map.zoom"))
	assert.Equal(t, 9.0, prefZoom, "preference keeps the stored value")

	e.Delete("map.zoom")
	assert.Equal(t, 5.0, e.Get("map.zoom", nil), "admin keys cannot be deleted")
}

func TestEngine_StoragePriority(t *testing.T) {
	ctx := context.Background()
	high := storage.NewMemory("high", storage.TypeLocal)
	low := storage.NewMemory("low", storage.TypeLocal)
	require.NoError(t, high.SetSettings(ctx, map[string]any{"workbench": map[string]any{"a": 1}}, nil))
	require.NoError(t, low.SetSettings(ctx, map[string]any{
		"workbench": map[string]any{"a": 2, "b": 2},
		"other":     map[string]any{"c": 3},
	}, nil))

	e := newEngine(t, Options{}, high, low)
	assert.Equal(t, 1.0, e.Get("a", nil))
	assert.Equal(t, 2.0, e.Get("b", nil))
	assert.Nil(t, e.Get("c", nil), "foreign namespaces are not merged")
}

func TestEngine_CoreKeysRouting(t *testing.T) {
	rec := newRecording("mem", storage.TypeLocal, true)
	e := newEngine(t, Options{}, rec)
	require.NoError(t, e.Flush(context.Background()))

	e.Set("storage.extra", true, false)
	e.Set("map.zoom", 2, false)
	require.NoError(t, e.Flush(context.Background()))

	payload, _ := rec.last()
	assert.Equal(t, map[string]any{
		"core":      map[string]any{"storage": map[string]any{"extra": true}},
		"workbench": map[string]any{"map": map[string]any{"zoom": 2.0}},
	}, payload)
}

func TestEngine_SavePayloadChoice(t *testing.T) {
	ctx := context.Background()

	t.Run("DeltaStorage", func(t *testing.T) {
		rec := newRecording("mem", storage.TypeLocal, true)
		e := newEngine(t, Options{}, rec)

		// the first save after selecting a write storage is complete
		e.Set("a", 1, false)
		require.NoError(t, e.Flush(ctx))
		payload, _ := rec.last()
		assert.Equal(t, map[string]any{"a": 1.0}, payload["workbench"])
		assert.Equal(t, "local", payload["core"].(map[string]any)["storage"].(map[string]any)["writeType"])

		e.Set("b", 2, false)
		require.NoError(t, e.Flush(ctx))
		payload, _ = rec.last()
		assert.Equal(t, map[string]any{"workbench": map[string]any{"b": 2.0}}, payload)
		assert.Empty(t, e.delta)
	})

	t.Run("FullStorage", func(t *testing.T) {
		rec := newRecording("file", storage.TypeLocal, false)
		e := newEngine(t, Options{}, rec)
		require.NoError(t, e.Flush(ctx))

		e.Set("a", 1, false)
		require.NoError(t, e.Flush(ctx))
		e.Set("b", 2, false)
		require.NoError(t, e.Flush(ctx))

		payload, _ := rec.last()
		assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, payload["workbench"])
		assert.Contains(t, payload, "core")
	})

	t.Run("NothingChanged", func(t *testing.T) {
		rec := newRecording("mem", storage.TypeLocal, true)
		e := newEngine(t, Options{}, rec)
		require.NoError(t, e.Flush(ctx))
		n := rec.Writes()

		require.NoError(t, e.Save(ctx))
		assert.Equal(t, n, rec.Writes())
	})
}

func TestEngine_Deletions(t *testing.T) {
	ctx := context.Background()
	rec := newRecording("mem", storage.TypeLocal, true)
	e := newEngine(t, Options{}, rec)

	e.Set("a", map[string]any{"x": 1, "y": map[string]any{"z": 2}}, false)
	require.NoError(t, e.Flush(ctx))

	e.Set("a", map[string]any{"x": 1}, false)
	require.NoError(t, e.Flush(ctx))
	_, deletes := rec.last()
	assert.Equal(t, []tree.Path{{"workbench", "a", "y", "z"}}, deletes)

	var deleted ChangeEvent
	e.Listen("a", func(ev ChangeEvent) { deleted = ev })
	e.Delete("a")
	assert.Equal(t, map[string]any{"x": 1.0}, deleted.OldValue)
	require.NoError(t, e.Flush(ctx))
	_, deletes = rec.last()
	assert.Equal(t, []tree.Path{{"workbench", "a", "x"}}, deletes)

	p, err := rec.GetAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, p.Preference["workbench"], "a")

	e.Set("s", "v", false)
	e.Delete("s")
	require.NoError(t, e.Flush(ctx))
	_, deletes = rec.last()
	assert.Equal(t, []tree.Path{{"workbench", "s"}}, deletes)
}

func TestEngine_FailedSaveRetries(t *testing.T) {
	ctx := context.Background()
	rec := newRecording("mem", storage.TypeLocal, true)
	e := newEngine(t, Options{}, rec)
	require.NoError(t, e.Flush(ctx))

	rec.FailWrites(errors.New("disk full"))
	e.Set("a", 1, false)
	require.Error(t, e.Save(ctx))

	e.Set("b", 2, false)
	rec.FailWrites(nil)
	require.NoError(t, e.Save(ctx))

	payload, _ := rec.last()
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, payload["workbench"], "unsent delta is kept")
}

func TestEngine_FailureThresholdReselects(t *testing.T) {
	ctx := context.Background()
	primary := newRecording("primary", storage.TypeLocal, true)
	backup := newRecording("backup", storage.TypeLocal, true)
	e := newEngine(t, Options{MaxStorageFails: 10}, primary, backup)
	require.NoError(t, e.Flush(ctx))

	primary.FailWrites(errors.New("locked"))
	e.Set("a", 1, false)

	for i := 1; i <= 10; i++ {
		require.Error(t, e.Save(ctx))
		require.True(t, primary.CanAccess(), "still accessible after %d failures", i)
	}
	require.Error(t, e.Save(ctx))

	assert.False(t, primary.CanAccess())
	assert.Same(t, backup, e.reg.WriteStorage())
	assert.True(t, e.IsPersistenceEnabled())

	require.NoError(t, e.Save(ctx))
	payload, _ := backup.last()
	assert.Equal(t, map[string]any{"a": 1.0}, payload["workbench"], "replacement gets the full tree")
}

func TestEngine_FailureThresholdWithoutReplacement(t *testing.T) {
	ctx := context.Background()
	alerts := alert.NewManager(nil)
	only := newRecording("only", storage.TypeLocal, true)
	e := newEngine(t, Options{MaxStorageFails: 2, Alerts: alerts}, only)
	require.NoError(t, e.Flush(ctx))

	only.FailWrites(errors.New("gone"))
	e.Set("a", 1, false)
	for i := 0; i < 3; i++ {
		require.Error(t, e.Save(ctx))
	}

	assert.False(t, only.CanAccess())
	assert.False(t, e.IsPersistenceEnabled())
	recent := alerts.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, alert.SeverityError, recent[len(recent)-1].Severity)

	// degraded, not broken
	e.Set("b", 2, false)
	assert.NoError(t, e.Save(ctx))
	assert.Equal(t, 2.0, e.Get("b", nil))
}

func TestEngine_SetWriteStorageType(t *testing.T) {
	ctx := context.Background()
	alerts := alert.NewManager(nil)
	state := store.NewMemoryStore()
	local := newRecording("local", storage.TypeLocal, true)
	remote := newRecording("remote", storage.TypeRemote, true)

	e := newEngine(t, Options{Alerts: alerts, State: state}, local, remote)
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, storage.TypeLocal, e.WriteStorageType())

	require.NoError(t, e.SetWriteStorageType(ctx, storage.TypeRemote, true))
	assert.Same(t, remote, e.reg.WriteStorage())
	assert.Equal(t, "remote", e.Get(WriteTypeKey, nil))
	v, _ := state.GetState(ctx, StateWriteType)
	assert.Equal(t, "remote", v)
	assert.Equal(t, alert.SeveritySuccess, alerts.Recent()[len(alerts.Recent())-1].Severity)

	e.Set("a", 1, false)
	require.NoError(t, e.Flush(ctx))
	assert.False(t, local.NeedsCleared(), "stale storage cleared after save")
	p, _ := local.GetAll(ctx)
	assert.Empty(t, p.Preference)

	remote.SetCanAccess(false)
	err := e.SetWriteStorageType(ctx, storage.TypeRemote, false)
	assert.ErrorIs(t, err, storage.ErrNoWriteStorage)
	assert.False(t, e.IsPersistenceEnabled())
	assert.Equal(t, alert.SeverityError, alerts.Recent()[len(alerts.Recent())-1].Severity)
}

func TestEngine_WriteTypeFromBackup(t *testing.T) {
	state := store.NewMemoryStore()
	require.NoError(t, state.SetState(context.Background(), StateWriteType, "remote"))

	remote := storage.NewMemory("remote", storage.TypeRemote)
	e := newEngine(t, Options{State: state}, storage.NewMemory("local", storage.TypeLocal), remote)
	assert.Equal(t, storage.TypeRemote, e.WriteStorageType())
	assert.Same(t, remote, e.reg.WriteStorage())
}

func TestEngine_Reset(t *testing.T) {
	ctx := context.Background()
	state := store.NewMemoryStore()
	mem := storage.NewMemory("mem", storage.TypeLocal)
	require.NoError(t, mem.SetSettings(ctx, map[string]any{
		"workbench": map[string]any{"a": 1},
		"other":     map[string]any{"keep": true},
	}, nil))

	e := newEngine(t, Options{State: state}, mem)
	require.NoError(t, e.Flush(ctx))

	var resetEvents []string
	e.OnChange(func(ev ChangeEvent) { resetEvents = append(resetEvents, ev.Key) })

	before := time.Now().UnixMilli()
	require.NoError(t, e.Reset(ctx, ""))

	assert.Nil(t, e.Get("a", nil))
	assert.Contains(t, resetEvents, "a")
	assert.Equal(t, "local", e.Get(WriteTypeKey, nil))
	assert.GreaterOrEqual(t, int64(e.GetFloat(ResetKey, 0)), before)

	raw, ok := state.GetState(ctx, StateReset)
	require.True(t, ok)
	ts, err := strconv.ParseInt(raw, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ts, before)

	p, err := mem.GetAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, p.Preference, "workbench")
	assert.Equal(t, map[string]any{"keep": true}, p.Preference["other"])
	core := p.Preference["core"].(map[string]any)
	assert.Equal(t, "local", core["storage"].(map[string]any)["writeType"])
	assert.Contains(t, core, ResetKey)
}

func TestEngine_PartialLoadFailure(t *testing.T) {
	alerts := alert.NewManager(nil)
	bad := storage.NewMemory("bad", storage.TypeLocal)
	bad.FailLoads(errors.New("corrupt"))
	good := storage.NewMemory("good", storage.TypeLocal)
	require.NoError(t, good.SetSettings(context.Background(), map[string]any{"workbench": map[string]any{"a": 1}}, nil))

	e := newEngine(t, Options{Alerts: alerts}, bad, good)
	assert.Equal(t, 1.0, e.Get("a", nil))

	recent := alerts.Recent()
	require.NotEmpty(t, recent)
	assert.Equal(t, alert.SeverityWarning, recent[0].Severity)
	assert.Contains(t, recent[0].Message, "bad")
}

func TestEngine_CrossContextReload(t *testing.T) {
	ctx := context.Background()
	hub := peer.NewHub()
	defer hub.Close()

	shared := storage.NewMemory("shared", storage.TypeLocal)
	opts := Options{Transport: hub, ReloadDelay: 10 * time.Millisecond}
	e1 := newEngine(t, opts, shared)
	e2 := newEngine(t, opts, shared)
	require.NoError(t, e1.Flush(ctx))
	require.NoError(t, e2.Flush(ctx))

	var mu sync.Mutex
	var got []ChangeEvent
	e2.Listen("map.zoom", func(ev ChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	e1.Set("map.zoom", 7, false)
	require.NoError(t, e1.Flush(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	ev := got[0]
	mu.Unlock()
	assert.True(t, ev.Remote)
	assert.Nil(t, ev.OldValue)
	assert.Equal(t, 7.0, ev.NewValue)
	assert.Equal(t, 7.0, e2.Get("map.zoom", nil))
}

func TestEngine_ProcessWriteType(t *testing.T) {
	local := storage.NewMemory("local", storage.TypeLocal)
	remote := storage.NewMemory("remote", storage.TypeRemote)
	e := newEngine(t, Options{}, local, remote)

	e.Process(peer.Message{
		Type:      "core",
		Namespace: "core",
		Keys:      []string{"storage", "writeType"},
		NewValue:  "remote",
		Sender:    "elsewhere",
	})
	assert.Equal(t, storage.TypeRemote, e.WriteStorageType())
	assert.Same(t, remote, e.reg.WriteStorage())

	e.Process(peer.Message{Keys: []string{"storage", "writeType"}, NewValue: "floppy"})
	assert.Equal(t, storage.TypeRemote, e.WriteStorageType())
	assert.ElementsMatch(t, []string{"core", "workbench"}, e.Types())
}
