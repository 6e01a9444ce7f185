// Package orchestrator wires editor events to the renderer, the directive
// resolver and the overlay engine.
package orchestrator

import (
	"sync"
	"time"

	"github.com/randomizedcoder/go-shader-preview/internal/clock"
)

// Debouncer collapses a burst of triggers into one call once the burst has
// been quiet for the configured delay. Editors and file watchers report a
// single save as several change events.
type Debouncer struct {
	delay time.Duration
	clock clock.Clock

	mu       sync.Mutex
	timer    clock.Timer
	gen      uint64
	triggers int64
	fired    int64
}

// NewDebouncer creates a debouncer. A nil clock means clock.Real().
func NewDebouncer(delay time.Duration, c clock.Clock) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{delay: delay, clock: c}
}

// Trigger (re)arms the timer so fn runs delay after the last trigger. Only
// the fn of the latest trigger runs. With a zero delay fn runs at once on
// the caller's goroutine.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	d.triggers++
	if d.delay <= 0 {
		d.fired++
		d.mu.Unlock()
		fn()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A timer that fired while being replaced is stale.
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.fired++
		d.mu.Unlock()
		fn()
	})
	d.mu.Unlock()
}

// Cancel drops a pending call. Reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	return true
}

// Pending reports whether a call is waiting for its quiet period.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Delay returns the configured quiet period.
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Counts returns the number of triggers and of calls actually made.
func (d *Debouncer) Counts() (triggers, fired int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers, d.fired
}
