package api

import (
	"errors"
	"log/slog"
	"net/http"

	"workbench/pkg/settings"
	"workbench/pkg/settings/storage"
)

// SettingsHandler exposes the settings engine.
type SettingsHandler struct {
	engine *settings.Engine
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(e *settings.Engine) *SettingsHandler {
	return &SettingsHandler{engine: e}
}

// ResolvedResponse is a single setting with its source.
type ResolvedResponse struct {
	Key    string `json:"key"`
	Source string `json:"source"`
	Value  any    `json:"value"`
}

// StorageRequest switches the write storage type.
type StorageRequest struct {
	Type string `json:"type"`
}

// ResetRequest names the namespace to reset. Empty means the app namespace.
type ResetRequest struct {
	Namespace string `json:"namespace"`
}

// StatusResponse describes the engine state.
type StatusResponse struct {
	Loaded      bool   `json:"loaded"`
	WriteType   string `json:"write_type"`
	Persistence bool   `json:"persistence"`
}

func (h *SettingsHandler) ready(w http.ResponseWriter) bool {
	if !h.engine.IsLoaded() {
		writeError(w, http.StatusServiceUnavailable, "settings not loaded")
		return false
	}
	return true
}

// HandleGet returns the merged settings, or one resolved key with ?key=.
// GET /api/settings
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusOK, h.engine.Snapshot())
		return
	}
	res := h.engine.Resolve(key)
	if res.Source == settings.SourceNone {
		writeError(w, http.StatusNotFound, "no such setting")
		return
	}
	writeJSON(w, http.StatusOK, ResolvedResponse{Key: key, Source: res.Source.String(), Value: res.Value})
}

// HandleSet stores the JSON body at ?key=. ?local=true keeps the change out
// of persistence and other contexts.
// PUT /api/settings
func (h *SettingsHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	var value any
	if err := readJSON(r, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON value")
		return
	}
	h.engine.Set(key, value, r.URL.Query().Get("local") == "true")
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete removes ?key=.
// DELETE /api/settings
func (h *SettingsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	h.engine.Delete(key)
	w.WriteHeader(http.StatusNoContent)
}

// HandleReset resets a namespace to its defaults.
// POST /api/settings/reset
func (h *SettingsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req ResetRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := h.engine.Reset(r.Context(), req.Namespace); err != nil {
		slog.Warn("SettingsHandler: reset failed", "namespace", req.Namespace, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStorage switches the write storage type.
// POST /api/settings/storage
func (h *SettingsHandler) HandleStorage(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req StorageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := storage.ParseType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetWriteStorageType(r.Context(), t, true); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, storage.ErrNoWriteStorage) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	h.HandleStatus(w, r)
}

// HandleStatus reports whether settings are loaded and where they are written.
// GET /api/settings/status
func (h *SettingsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Loaded: h.engine.IsLoaded()}
	if resp.Loaded {
		resp.WriteType = string(h.engine.WriteStorageType())
		resp.Persistence = h.engine.IsPersistenceEnabled()
	}
	writeJSON(w, http.StatusOK, resp)
}
