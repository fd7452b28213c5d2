// Package system provides the wall clock used outside tests.
package system

import "time"

// Resolution is the precision Postgres keeps for timestamptz columns. Job
// timestamps are truncated to it so a job read back from the database equals
// the one handed out by the dispatcher, whichever store is configured.
const Resolution = time.Microsecond

// Clock implements harvest.Clock and job.Clock.
type Clock struct {
	now func() time.Time
}

// New returns a Clock reading the wall time.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current UTC time at storage resolution, without the
// monotonic reading.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(Resolution)
}
