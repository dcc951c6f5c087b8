// Package system provides the wall clock used to stamp runs and events.
package system

import "time"

// Clock implements vacancy.Clock.
type Clock struct{}

// New creates a Clock.
func New() Clock { return Clock{} }

// Now returns the current UTC time truncated to microseconds, the precision Postgres keeps.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
