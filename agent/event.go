// Package agent connects a [reactor.Channel] with a milter decoder and encoder.
//
// A [Reader] turns readiness of the channel into [EventFlow] events, a [Writer] buffers outgoing
// packets and reports [EventFlushed] once they left the buffer. An [Agent] owns one of each plus a
// decoder and drives one side of a milter session. Everything in this package has to be used from
// the goroutine that runs the event loop.
package agent

import (
	"fmt"
	"sync/atomic"
)

// EventKind is the type of an [Event].
type EventKind int

const (
	// EventFlow carries bytes read from the channel.
	EventFlow EventKind = iota
	// EventFlushed signals that all bytes written before the flush request left the buffer.
	EventFlushed
	// EventError carries an error. The component that emitted it may finish right after.
	EventError
	// EventFinished is the last event of a component.
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventFlow:
		return "flow"
	case EventFlushed:
		return "flushed"
	case EventError:
		return "error"
	case EventFinished:
		return "finished"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is something that happened to a [Reader], [Writer] or [Agent].
type Event struct {
	Kind EventKind
	// Data is set for EventFlow. The receiver owns it.
	Data []byte
	// Err is set for EventError.
	Err error
}

// EventHandler receives events. It runs on the event loop goroutine.
type EventHandler func(ev Event)

type state int

const (
	stateIdle state = iota
	stateWatching
	stateShuttingDown
	stateFinished
)

var tagCounter atomic.Uint64

// NextTag returns a new process wide unique session tag. It is safe for concurrent use.
func NextTag() uint {
	return uint(tagCounter.Add(1))
}
