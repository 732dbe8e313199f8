// Package clock abstracts time for components that track deadlines.
package clock

import "time"

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// NewSystem creates a new System clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	current time.Time
}

// NewFake creates a Fake pinned at the given instant.
func NewFake(at time.Time) *Fake {
	return &Fake{current: at}
}

// Now returns the fake's current instant.
func (f *Fake) Now() time.Time {
	return f.current
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}

// Set pins the fake clock at the given instant.
func (f *Fake) Set(at time.Time) {
	f.current = at
}
