// Package system provides the wall clock used to stamp progress events.
package system

import "time"

// Clock implements collect.Clock using the process wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since reports the elapsed time since start, never negative.
func (c Clock) Since(start time.Time) time.Duration {
	d := c.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
