// Package schedule provides the timer primitive shared by the update throttle and the
// search debouncer.
package schedule

import (
	"sync"
	"time"
)

// Mode selects how a Coalescer arms its timer.
type Mode int

const (
	// Trailing emits the latest value at most once per window. The window opens on the
	// first value pushed while idle and is not extended by later pushes.
	Trailing Mode = iota
	// Debounce emits the latest value once no push has happened for a full window.
	Debounce
)

// Coalescer collapses bursts of values into single emissions.
// Intermediate values are discarded, never queued. Emission runs on the timer goroutine.
type Coalescer[T any] struct {
	mode   Mode
	window time.Duration
	emit   func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	armed   bool
	gen     uint64
	stopped bool
}

// New creates a Coalescer that calls emit with the surviving value of each burst.
func New[T any](mode Mode, window time.Duration, emit func(T)) *Coalescer[T] {
	return &Coalescer[T]{
		mode:   mode,
		window: window,
		emit:   emit,
	}
}

// NewThrottle is New(Trailing, ...).
func NewThrottle[T any](window time.Duration, emit func(T)) *Coalescer[T] {
	return New(Trailing, window, emit)
}

// NewDebouncer is New(Debounce, ...).
func NewDebouncer[T any](window time.Duration, emit func(T)) *Coalescer[T] {
	return New(Debounce, window, emit)
}

// Push records v as the latest value. It never blocks on emission.
func (c *Coalescer[T]) Push(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.pending = v

	if c.armed && c.mode == Trailing {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.armed = true
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.window, func() { c.fire(gen) })
}

// fire emits the pending value unless the timer was superseded or the coalescer stopped.
func (c *Coalescer[T]) fire(gen uint64) {
	c.mu.Lock()
	if c.stopped || !c.armed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	v := c.take()
	c.mu.Unlock()

	c.emit(v)
}

// take clears the pending slot. Caller holds mu.
func (c *Coalescer[T]) take() T {
	v := c.pending
	var zero T
	c.pending = zero
	c.armed = false
	c.timer = nil
	return v
}

// Flush emits the pending value immediately, if any, and cancels its timer.
func (c *Coalescer[T]) Flush() {
	c.mu.Lock()
	if c.stopped || !c.armed {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	v := c.take()
	c.mu.Unlock()

	c.emit(v)
}

// Cancel drops the pending value without stopping the coalescer.
func (c *Coalescer[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	c.take()
}

// Pending reports whether a value is waiting for emission.
func (c *Coalescer[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Stop discards any pending value. No emission happens after Stop returns,
// except one already in progress on the timer goroutine.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	c.take()
}
