// Package probe runs the startup checks of the workbench server.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"workbench/pkg/settings/storage"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check.
type Probe struct {
	Name  string
	Check CheckFunc
	// Critical failures abort startup.
	Critical bool
}

// Result is the outcome of one probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// DefaultTimeout bounds each check.
const DefaultTimeout = 5 * time.Second

// Run executes probes in order, each under its own timeout.
func Run(ctx context.Context, probes []Probe, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	results := make([]Result, 0, len(probes))
	for _, p := range probes {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()
		results = append(results, Result{Probe: p, Error: err, Duration: time.Since(start)})
	}
	return results
}

// Storages returns one non-critical probe per settings storage. A storage
// that cannot be read is marked inaccessible so it is never picked as the
// write storage.
func Storages(storages []storage.Storage) []Probe {
	probes := make([]Probe, 0, len(storages))
	for _, s := range storages {
		probes = append(probes, Probe{
			Name: fmt.Sprintf("Settings storage %s (%s)", s.Name(), s.Type()),
			Check: func(ctx context.Context) error {
				if !s.CanAccess() {
					return errors.New("failed to initialize")
				}
				if _, err := s.GetAll(ctx); err != nil {
					s.SetCanAccess(false)
					return err
				}
				return nil
			},
		})
	}
	return probes
}

// AnalyzeResults logs a summary and joins the errors of failed critical
// probes.
func AnalyzeResults(results []Result) error {
	var critical []error

	slog.Info("Startup Checks Summary")
	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-32s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Probe.Critical:
			slog.Error(msg, "error", r.Error)
			critical = append(critical, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}

	return errors.Join(critical...)
}
