package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workbench/pkg/db"
	"workbench/pkg/request"
	"workbench/pkg/settings/tree"
)

// testRoundTrip runs the shared write/read contract against a writable storage.
func testRoundTrip(t *testing.T, s Storage) {
	ctx := context.Background()
	require.NoError(t, s.Init(ctx))

	prefs := map[string]any{
		"core": map[string]any{"storage": map[string]any{"writeType": "local"}},
		"app":  map[string]any{"map": map[string]any{"zoom": 4.0, "layers": map[string]any{"a": true, "b": false}}},
	}
	require.NoError(t, s.SetSettings(ctx, prefs, nil))

	p, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefs, p.Preference)

	// Deletes apply before writes: removing a subtree and rewriting one leaf.
	err = s.SetSettings(ctx,
		map[string]any{"app": map[string]any{"map": map[string]any{"layers": map[string]any{"a": false}}}},
		[]tree.Path{{"app", "map", "layers"}})
	require.NoError(t, err)

	p, err = s.GetAll(ctx)
	require.NoError(t, err)
	got, _ := tree.Get(p.Preference, tree.ParsePath("app.map.layers"))
	if s.CanInsertDeltas() {
		assert.Equal(t, map[string]any{"a": false}, got)
		zoom, _ := tree.Get(p.Preference, tree.ParsePath("app.map.zoom"))
		assert.Equal(t, 4.0, zoom)
	} else {
		assert.Equal(t, map[string]any{"a": false}, got)
	}

	v, ok, err := s.Get(ctx, "core")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, prefs["core"], v)

	require.NoError(t, s.Set(ctx, "core", map[string]any{"reset": 5}, false))
	v, _, err = s.Get(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v.(map[string]any)["reset"])
	assert.Equal(t, "local", v.(map[string]any)["storage"].(map[string]any)["writeType"])

	require.NoError(t, s.Set(ctx, "core", map[string]any{"reset": 6}, true))
	v, _, err = s.Get(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reset": 6.0}, v)

	require.NoError(t, s.Remove(ctx, "core"))
	_, ok, err = s.Get(ctx, "core")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Clear(ctx))
	p, err = s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, p.Preference)
}

func TestMemory(t *testing.T) {
	testRoundTrip(t, NewMemory("mem", TypeLocal))
}

func TestSQLite(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer d.Close()

	s := NewSQLite("sqlite", d)
	assert.True(t, s.CanInsertDeltas())
	testRoundTrip(t, s)
}

func TestSQLite_DeleteDoesNotMatchSiblings(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	s := NewSQLite("sqlite", d)
	require.NoError(t, s.SetSettings(ctx, map[string]any{
		"app": map[string]any{"a_b": 1, "aXb": map[string]any{"c": 2}, "a": map[string]any{"b": 3}},
	}, nil))

	require.NoError(t, s.SetSettings(ctx, nil, []tree.Path{{"app", "a_b"}}))

	p, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"aXb": map[string]any{"c": 2.0}, "a": map[string]any{"b": 3.0}}, p.Preference["app"])
}

func TestTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.toml")
	s := NewTOMLFile("toml", path)
	assert.False(t, s.CanInsertDeltas())
	testRoundTrip(t, s)
}

func TestTOMLFile_NilLeavesDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := NewTOMLFile("toml", path)
	ctx := context.Background()

	require.NoError(t, s.SetSettings(ctx, map[string]any{"app": map[string]any{"x": nil, "y": "z"}}, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[app]")
	assert.NotContains(t, string(data), "x")
}

func TestTOMLFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := NewTOMLFile("toml", path).GetAll(context.Background())
	assert.Error(t, err)
}

func TestAdminFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "admin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("map:\n  zoom: 3\n  locked: true\n"), 0o644))

	ctx := context.Background()
	a := NewAdminFile("admin", path)
	require.NoError(t, a.Init(ctx))
	assert.True(t, a.ReadOnly())

	p, err := a.GetAll(ctx)
	require.NoError(t, err)
	assert.Nil(t, p.Preference)
	assert.Equal(t, map[string]any{"zoom": 3.0, "locked": true}, p.Config["map"])

	assert.ErrorIs(t, a.SetSettings(ctx, nil, nil), ErrReadOnly)
	assert.ErrorIs(t, a.Clear(ctx), ErrReadOnly)

	missing, err := NewAdminFile("admin", filepath.Join(dir, "none.yaml")).GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing.Config)
}

// storageHost serves a Memory storage the way the API storage host does.
func storageHost(t *testing.T, backing *Memory) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/storage"), "/")
		switch r.Method {
		case http.MethodGet:
			p, err := backing.GetAll(ctx)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(p)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			var u Update
			if err := json.Unmarshal(body, &u); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := backing.SetSettings(ctx, u.Preferences, u.Deletes); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			var err error
			if key == "" {
				err = backing.Clear(ctx)
			} else {
				err = backing.Remove(ctx, key)
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}
	}))
}

func TestRemote(t *testing.T) {
	srv := storageHost(t, NewMemory("host", TypeLocal))
	defer srv.Close()

	r := NewRemote("remote", srv.URL+"/api/storage", request.New(request.WithGap(0)))
	assert.Equal(t, TypeRemote, r.Type())
	testRoundTrip(t, r)
}

func TestRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemote("remote", srv.URL, request.New(request.WithRetry(1, time.Millisecond), request.WithGap(0)))
	assert.Error(t, r.Init(context.Background()))

	assert.Error(t, NewRemote("remote", "", nil).Init(context.Background()))
}

func TestRegistry_SelectWriteStorage(t *testing.T) {
	local := NewMemory("local", TypeLocal)
	admin := NewAdminFile("admin", filepath.Join(t.TempDir(), "admin.yaml"))
	remoteA := NewMemory("remoteA", TypeRemote)
	remoteB := NewMemory("remoteB", TypeRemote)
	reg := NewRegistry(admin, remoteA, remoteB, local)

	s, err := reg.SelectWriteStorage(TypeLocal)
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name())

	remoteA.SetCanAccess(false)
	s, err = reg.SelectWriteStorage(TypeRemote)
	require.NoError(t, err)
	assert.Equal(t, "remoteB", s.Name())
	assert.True(t, local.NeedsCleared(), "previous write storage is flagged")
	assert.Same(t, s, reg.WriteStorage())

	remoteB.SetCanAccess(false)
	_, err = reg.SelectWriteStorage(TypeRemote)
	assert.ErrorIs(t, err, ErrNoWriteStorage)
	assert.Same(t, remoteB, reg.WriteStorage(), "failed selection keeps the old write storage")

	got, ok := reg.Get("remoteA")
	assert.True(t, ok)
	assert.Same(t, remoteA, got)
}

func TestRegistry_LoadAllAndInit(t *testing.T) {
	ok := NewMemory("ok", TypeLocal)
	bad := NewMemory("bad", TypeLocal)
	bad.FailLoads(errors.New("boom"))
	gone := NewRemote("gone", "", nil)

	reg := NewRegistry(ok, bad, gone)
	reg.InitAll(context.Background())
	assert.False(t, gone.CanAccess())

	results := reg.LoadAll(context.Background())
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestRegistry_ClearStale(t *testing.T) {
	ctx := context.Background()
	a := NewMemory("a", TypeLocal)
	b := NewMemory("b", TypeRemote)
	require.NoError(t, a.SetSettings(ctx, map[string]any{"app": map[string]any{"x": 1}}, nil))

	reg := NewRegistry(a, b)
	_, err := reg.SelectWriteStorage(TypeLocal)
	require.NoError(t, err)
	_, err = reg.SelectWriteStorage(TypeRemote)
	require.NoError(t, err)
	require.True(t, a.NeedsCleared())

	a.FailWrites(errors.New("locked"))
	reg.ClearStale(ctx)
	assert.True(t, a.NeedsCleared(), "failed clear stays flagged")

	a.FailWrites(nil)
	reg.ClearStale(ctx)
	assert.False(t, a.NeedsCleared())
	p, _ := a.GetAll(ctx)
	assert.Empty(t, p.Preference)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		err  bool
	}{
		{"local", TypeLocal, false},
		{" Remote ", TypeRemote, false},
		{"cloud", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnknownType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
