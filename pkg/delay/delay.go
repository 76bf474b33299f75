// Package delay provides a restartable single-shot timer.
package delay

import (
	"sync"
	"time"

	"github.com/bep/debounce"
)

// Delay runs its callback once after a quiet period. Every Start restarts
// the period, so a burst of triggers fires the callback at most once.
type Delay struct {
	mu       sync.Mutex
	fn       func()
	interval time.Duration
	debounce func(func())
	gen      uint64
	pending  bool
	stopped  bool
}

// New creates a Delay that calls fn interval after the last Start.
func New(fn func(), interval time.Duration) *Delay {
	return &Delay{
		fn:       fn,
		interval: interval,
		debounce: debounce.New(interval),
	}
}

// Start (re)arms the timer.
func (d *Delay) Start() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.gen++
	gen := d.gen
	d.pending = true
	d.mu.Unlock()

	d.debounce(func() { d.fire(gen) })
}

func (d *Delay) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || !d.pending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Stop cancels a pending run. The Delay can be started again afterwards.
func (d *Delay) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
	d.gen++
}

// Fire cancels a pending run and calls the callback now if one was pending.
// It reports whether the callback ran.
func (d *Delay) Fire() bool {
	d.mu.Lock()
	if d.stopped || !d.pending {
		d.mu.Unlock()
		return false
	}
	d.pending = false
	d.gen++
	d.mu.Unlock()

	d.fn()
	return true
}

// IsActive reports whether a run is pending.
func (d *Delay) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Interval returns the quiet period.
func (d *Delay) Interval() time.Duration {
	return d.interval
}

// Dispose cancels any pending run and ignores later Starts.
func (d *Delay) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	d.gen++
}
