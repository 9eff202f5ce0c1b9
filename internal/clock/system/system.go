// Package system provides a real clock implementation.
package system

import "time"

// Clock tells wall-clock time in UTC. Dates written to the catalog derive
// from it, so runs behave the same regardless of host timezone.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
