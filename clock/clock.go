// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clock abstracts the time operations used by the bus so that
// response deadlines, ping measurement and reconnect delays can be driven
// deterministically in tests.
//
// Production code uses Real(). Tests use Fake() and move time with Advance:
//
//	c := clock.Fake(time.Unix(0, 0))
//	b := bus.NewClient(factory, bus.WithClock(c), bus.WithTimeout(time.Second))
//	// ... issue a request the peer never answers ...
//	c.WaitForTimers(1)
//	c.Advance(time.Second)
package clock

import "time"

// Clock is the subset of the time package the bus depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels the
	// call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop prevents the call from happening. It returns false if the call has
// already happened or the timer was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}
