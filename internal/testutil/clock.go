package testutil

import (
	"sync"
	"time"
)

// DefaultNow is the instant a FixedClock starts at when none is given:
// a Monday, so business-day arithmetic in tests is easy to follow.
var DefaultNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

// FixedClock is a settable wall clock for tests.
//
// It implements engine.Clock, so date operators, note timestamps and result
// timestamps are deterministic and golden traces are byte-identical.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock creates a clock frozen at now (DefaultNow when zero).
func NewFixedClock(now time.Time) *FixedClock {
	if now.IsZero() {
		now = DefaultNow
	}
	return &FixedClock{now: now.UTC()}
}

// Now returns the frozen instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
