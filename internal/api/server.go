package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"workbench/pkg/logging"
	"workbench/pkg/version"
)

// NewServer creates and configures the HTTP server.
// Nil handlers leave their endpoints unregistered. shutdown is called from
// the shutdown endpoint.
func NewServer(addr string, settingsH *SettingsHandler, storageH *StorageHandler, timelineH *TimelineHandler, relay *PeerRelay, alertsH *AlertHandler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health, version, log
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	// 2. Settings
	if settingsH != nil {
		mux.HandleFunc("GET /api/settings", settingsH.HandleGet)
		mux.HandleFunc("PUT /api/settings", settingsH.HandleSet)
		mux.HandleFunc("DELETE /api/settings", settingsH.HandleDelete)
		mux.HandleFunc("GET /api/settings/status", settingsH.HandleStatus)
		mux.HandleFunc("POST /api/settings/reset", settingsH.HandleReset)
		mux.HandleFunc("POST /api/settings/storage", settingsH.HandleStorage)
	}

	// 3. Storage host for remote settings storages
	if storageH != nil {
		mux.HandleFunc("GET /api/storage", storageH.HandleGet)
		mux.HandleFunc("PUT /api/storage", storageH.HandlePut)
		mux.HandleFunc("DELETE /api/storage", storageH.HandleClear)
		mux.HandleFunc("DELETE /api/storage/{key}", storageH.HandleRemove)
	}

	// 4. Timeline
	if timelineH != nil {
		mux.HandleFunc("GET /api/timeline", timelineH.HandleGet)
		mux.HandleFunc("PUT /api/timeline", timelineH.HandlePut)
		mux.HandleFunc("GET /api/timeline/document", timelineH.HandleDocument)
		mux.HandleFunc("PUT /api/timeline/document", timelineH.HandleApplyDocument)
		mux.HandleFunc("POST /api/timeline/ranges/{kind}", timelineH.HandleRanges)
		mux.HandleFunc("POST /api/timeline/{action}", timelineH.HandleAction)
	}

	// 5. Peer relay and alerts
	if relay != nil {
		mux.Handle("GET /api/peer", relay)
	}
	if alertsH != nil {
		mux.HandleFunc("GET /api/alerts", alertsH.HandleRecent)
		mux.HandleFunc("DELETE /api/alerts", alertsH.HandleClear)
	}

	// 6. Shutdown
	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			if shutdown != nil {
				shutdown()
			}
		}()
	})

	return &http.Server{
		Addr:         addr,
		Handler:      logRequests(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// logRequests writes one line per request to the request log.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.RequestLogger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
