// Package debounce delays a task until input has been quiet for a window.
package debounce

import (
	"sync"
	"time"
)

// DefaultWindow is the quiet period used for search input.
const DefaultWindow = 250 * time.Millisecond

// Debouncer runs at most one pending task. Triggering again replaces the
// pending task and restarts the window.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	seq     uint64
}

// New returns a debouncer; a non-positive window uses DefaultWindow.
func New(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{window: window}
}

// Window returns the quiet period.
func (d *Debouncer) Window() time.Duration { return d.window }

// Trigger schedules fn after the window, cancelling any pending task.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.seq++
	seq := d.seq
	d.pending = fn
	d.timer = time.AfterFunc(d.window, func() {
		if run := d.take(seq); run != nil {
			run()
		}
	})
}

// Cancel drops the pending task, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Flush runs the pending task now on the calling goroutine. It reports
// whether a task ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.pending
	d.stopLocked()
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a task is waiting.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// take claims the task for the timer that scheduled it. A timer that fired
// after being replaced or cancelled gets nil.
func (d *Debouncer) take(seq uint64) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seq != d.seq || d.pending == nil {
		return nil
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	return fn
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.seq++
}
