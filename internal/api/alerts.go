package api

import (
	"net/http"

	"workbench/pkg/alert"
)

// AlertHandler serves recent user-visible alerts.
type AlertHandler struct {
	alerts *alert.Manager
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(m *alert.Manager) *AlertHandler {
	return &AlertHandler{alerts: m}
}

// HandleRecent returns buffered alerts, oldest first.
// GET /api/alerts
func (h *AlertHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.alerts.Recent())
}

// HandleClear drops buffered alerts.
// DELETE /api/alerts
func (h *AlertHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.alerts.Clear()
	w.WriteHeader(http.StatusNoContent)
}
