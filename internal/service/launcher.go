package service

import (
	"context"

	"github.com/obsreg/importer/internal/protocol"
)

type EventKind int

const (
	EventFrame EventKind = iota
	EventError
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventError:
		return "error"
	case EventExit:
		return "exit"
	}
	return "unknown"
}

// Event is something a worker did, as observed by the coordinator.
type Event struct {
	Kind     EventKind
	Frame    protocol.Frame
	Err      error
	ExitCode int
}

func FrameEvent(f protocol.Frame) Event {
	return Event{Kind: EventFrame, Frame: f}
}

func ErrorEvent(err error) Event {
	return Event{Kind: EventError, Err: err}
}

func ExitEvent(code int) Event {
	return Event{Kind: EventExit, ExitCode: code}
}

// Handle is the coordinator's view of a running worker. Events is closed
// after the exit event has been delivered.
type Handle interface {
	Events() <-chan Event
	String() string
}

// Launcher starts an isolated worker for in. The worker must not share
// mutable memory with the caller.
type Launcher interface {
	Launch(ctx context.Context, in protocol.Input) (Handle, error)
}
