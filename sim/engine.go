package sim

import "errors"

// ErrDeadlineExceeded is returned by an engine when events are still pending
// at the deadline it was asked to run to.
var ErrDeadlineExceeded = errors.New("simulation deadline exceeded")

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	Schedule(e Event)
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	Hookable
	TimeTeller
	EventScheduler

	// Run processes all the events until the queue drains.
	Run() error

	// RunUntil processes the events that happen no later than the deadline.
	// It returns ErrDeadlineExceeded if events remain after the deadline.
	RunUntil(deadline VTimeInSec) error

	// Drop discards every pending event without advancing time.
	Drop()
}
