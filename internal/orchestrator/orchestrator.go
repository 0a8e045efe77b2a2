// Package orchestrator defines what the dispatcher needs from a job runner:
// a create call that is idempotent by name and a namespace-wide stream of
// job status changes. Backends live in the kube and docker sub-packages.
package orchestrator

import (
	"context"
	"errors"

	"impulse/internal/common"
	"impulse/internal/task"
)

type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
	Error    EventType = "ERROR"
)

// Event is one job status change. Counters are cumulative, as reported by
// the orchestrator. For Error events only Err is set.
type Event struct {
	Type      EventType
	Name      string
	Active    int32
	Succeeded int32
	Failed    int32
	Err       error
}

// Submission errors. Backends wrap the orchestrator's own error message.
var (
	ErrAlreadyExists = common.NewErrNo(common.JOB_ALREADY_EXISTS)
	ErrInvalid       = common.NewErrNo(common.JOB_INVALID)
	ErrTransport     = common.NewErrNo(common.ORCHESTRATOR_UNAVAILABLE)
	ErrWatch         = common.NewErrNo(common.WATCH_TRANSPORT)
	ErrStreamClosed  = common.WrapErrNo(common.WATCH_TRANSPORT, errors.New("watch stream closed"))
)

// Submitter creates one job. It never retries.
type Submitter interface {
	Submit(ctx context.Context, desc *task.Descriptor) error
}

// Source opens a watch over every job in the namespace.
type Source interface {
	Watch(ctx context.Context) (Stream, error)
}

// Stream delivers events until Stop is called or the transport fails. A
// transport failure is delivered as an Error event before the channel closes.
type Stream interface {
	Events() <-chan Event
	Stop()
}

// Backend is a Submitter and Source over the same namespace.
type Backend interface {
	Submitter
	Source
}

func ErrorEvent(err error) Event {
	return Event{Type: Error, Err: err}
}
