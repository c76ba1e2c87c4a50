// Package clock lets the inspection worker and its rolling store read time
// through an injected dependency. Production code uses Real(); tests use
// Fake() and move time forward explicitly with Advance.
package clock

import "time"

// Clock abstracts the time operations the agent needs.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once d has elapsed. If d <= 0
	// the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
