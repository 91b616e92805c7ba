// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements corpus.Clock. Times are UTC truncated to microseconds,
// the resolution Postgres stores.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
