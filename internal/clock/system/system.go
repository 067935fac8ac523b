// Package system provides wall-clock implementations of runs.Clock.
package system

import "time"

// Clock implements runs.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to runs.Clock. Tests use it to pin time.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// Fixed returns a clock frozen at t.
func Fixed(t time.Time) Func {
	return func() time.Time { return t }
}
