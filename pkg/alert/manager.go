// Package alert carries user-visible notifications. Components never surface
// failures to the UI any other way.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"workbench/pkg/event"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
	SeveritySuccess Severity = "SUCCESS"
)

// EventAlert is the event type used for dispatched alerts.
const EventAlert = "alert"

// Alert is a single notification.
type Alert struct {
	ID       string    `json:"id"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	Time     time.Time `json:"time"`
}

// Sender is what components depend on to raise alerts.
type Sender interface {
	SendAlert(msg string, sev Severity)
}

// defaultLimit bounds the recent-alert buffer.
const defaultLimit = 50

// Manager logs alerts, keeps the most recent ones and dispatches them to
// listeners.
type Manager struct {
	mu     sync.Mutex
	recent []Alert
	limit  int
	events *event.Target[Alert]
	logger *slog.Logger
}

// NewManager creates a Manager. A nil logger falls back to slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		limit:  defaultLimit,
		events: event.NewTarget[Alert](),
		logger: logger,
	}
}

// SendAlert records and dispatches an alert.
func (m *Manager) SendAlert(msg string, sev Severity) {
	a := Alert{
		ID:       uuid.NewString(),
		Message:  msg,
		Severity: sev,
		Time:     time.Now(),
	}

	switch sev {
	case SeverityError:
		m.logger.Error("Alert: "+msg, "severity", sev)
	case SeverityWarning:
		m.logger.Warn("Alert: "+msg, "severity", sev)
	default:
		m.logger.Info("Alert: "+msg, "severity", sev)
	}

	m.mu.Lock()
	m.recent = append(m.recent, a)
	if len(m.recent) > m.limit {
		m.recent = m.recent[len(m.recent)-m.limit:]
	}
	m.mu.Unlock()

	m.events.Dispatch(EventAlert, a)
}

// Listen registers fn for every alert.
func (m *Manager) Listen(fn func(Alert)) func() {
	return m.events.Listen(EventAlert, fn)
}

// Recent returns the buffered alerts, oldest first.
func (m *Manager) Recent() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.recent))
	copy(out, m.recent)
	return out
}

// Clear drops the buffered alerts.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = nil
}

// Discard is a Sender that only logs at debug level.
type Discard struct{}

// SendAlert implements Sender.
func (Discard) SendAlert(msg string, sev Severity) {
	slog.Debug("Alert (discarded)", "message", msg, "severity", sev)
}
