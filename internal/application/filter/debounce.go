package filter

import (
	"sync"
	"time"
)

// MinDebounce is the shortest settle time accepted for search input
const MinDebounce = 300 * time.Millisecond

// Debouncer delivers only the last value of a burst, once the input has been
// quiet for the configured delay
type Debouncer struct {
	delay time.Duration
	fn    func(string)

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	pending string
	stopped bool
}

// NewDebouncer creates a debouncer calling fn with the settled value.
// Delays below MinDebounce are raised to it.
func NewDebouncer(delay time.Duration, fn func(string)) *Debouncer {
	if delay < MinDebounce {
		delay = MinDebounce
	}
	return &Debouncer{delay: delay, fn: fn}
}

// Delay returns the effective settle time
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Trigger records a new value and restarts the settle timer
func (d *Debouncer) Trigger(value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = value
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(seq) })
}

// Flush delivers a pending value immediately
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.timer = nil
	value := d.pending
	d.seq++
	d.mu.Unlock()

	d.fn(value)
}

// Stop cancels any pending delivery; later triggers are ignored
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	// a timer that lost the race with Stop or a newer Trigger is stale
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	value := d.pending
	d.mu.Unlock()

	d.fn(value)
}
