// Package testutil provides deterministic test doubles for the tracking
// engines: a manual clock and a scripted sensor provider.
package testutil

import (
	"sync"
	"time"
)

// Clock is a manually-advanced wall clock for tests.
//
// Engines take a `now func() time.Time` dependency; production wires
// time.Now, tests wire Clock.Now. This keeps dwell timing and stop
// timeouts fully deterministic.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current frozen instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to a specific instant.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
