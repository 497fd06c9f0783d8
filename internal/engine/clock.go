package engine

import "time"

// Clock supplies "now" to the date operators, note timestamps and result
// timestamps. SystemClock is used in production; tests inject a fixed clock
// (see testutil.FixedClock) so day-count operators are deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}
