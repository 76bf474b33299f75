package logging

import (
	"log/slog"
	"sync/atomic"
)

var tracing atomic.Bool

// SetTrace toggles per-tick debug lines. ParseLevel turns it on for TRACE.
func SetTrace(on bool) { tracing.Store(on) }

// Tracing reports whether per-tick debug lines are emitted.
func Tracing() bool { return tracing.Load() }

// TraceDefault logs msg at DEBUG on the default logger while tracing is on.
func TraceDefault(msg string, args ...any) {
	if tracing.Load() {
		slog.Debug(msg, args...)
	}
}
