package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workbench/pkg/alert"
	"workbench/pkg/version"
)

func TestServer_HealthAndVersion(t *testing.T) {
	srv := NewServer("localhost:0", nil, nil, nil, nil, nil, nil)
	assert.Equal(t, "localhost:0", srv.Addr)

	rec := do(t, srv.Handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, srv.Handler, http.MethodGet, "/api/version", "")
	assert.Equal(t, version.Version, decode[map[string]string](t, rec)["version"])

	rec = do(t, srv.Handler, http.MethodGet, "/api/settings", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nil handlers leave routes unregistered")
}

func TestServer_Shutdown(t *testing.T) {
	done := make(chan struct{})
	srv := NewServer(":0", nil, nil, nil, nil, nil, func() { close(done) })

	rec := do(t, srv.Handler, http.MethodPost, "/api/shutdown", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not called")
	}
}

func TestAlertHandler(t *testing.T) {
	m := alert.NewManager(nil)
	srv := NewServer(":0", nil, nil, nil, nil, NewAlertHandler(m), nil)

	m.SendAlert("Settings are now stored in mem (local).", alert.SeveritySuccess)
	rec := do(t, srv.Handler, http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]alert.Alert](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, alert.SeveritySuccess, got[0].Severity)

	rec = do(t, srv.Handler, http.MethodDelete, "/api/alerts", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, m.Recent())
}
