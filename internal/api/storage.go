package api

import (
	"log/slog"
	"net/http"

	"workbench/pkg/settings/storage"
)

// StorageHandler hosts a settings storage for remote workbench instances.
// It speaks the protocol storage.Remote expects.
type StorageHandler struct {
	backing storage.Storage
}

// NewStorageHandler creates a host for backing. Returns nil without one.
func NewStorageHandler(backing storage.Storage) *StorageHandler {
	if backing == nil {
		return nil
	}
	return &StorageHandler{backing: backing}
}

// HandleGet returns everything stored.
// GET /api/storage
func (h *StorageHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.backing.GetAll(r.Context())
	if err != nil {
		slog.Error("StorageHandler: load failed", "storage", h.backing.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandlePut applies deletes, then merges preferences.
// PUT /api/storage
func (h *StorageHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var u storage.Update
	if err := readJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update")
		return
	}
	if err := h.backing.SetSettings(r.Context(), u.Preferences, u.Deletes); err != nil {
		slog.Error("StorageHandler: write failed", "storage", h.backing.Name(), "error", err)
		writeError(w, http.StatusInternalServerError, "storage write failed")
		return
	}
	slog.Debug("StorageHandler: update applied", "namespaces", len(u.Preferences), "deletes", len(u.Deletes))
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear removes everything.
// DELETE /api/storage
func (h *StorageHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.backing.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemove removes one namespace.
// DELETE /api/storage/{key}
func (h *StorageHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if _, ok, err := h.backing.Get(r.Context(), key); err == nil && !ok {
		writeError(w, http.StatusNotFound, "no such key")
		return
	}
	if err := h.backing.Remove(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
