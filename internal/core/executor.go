package core

import "time"

// Executor serializes state transitions onto one event loop.
type Executor interface {
	// Post queues fn to run on the loop.
	Post(fn func())
	// Go runs work off the loop and queues the returned continuation, if any, on it.
	Go(work func() (then func()))
	// AfterFunc queues fn on the loop once d has elapsed. stop reports whether the
	// timer was stopped before firing.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}
