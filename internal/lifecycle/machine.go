// Package lifecycle turns a namespace-wide stream of job changes into the
// status timeline of one job: pending, running, then succeeded or failed.
package lifecycle

import "impulse/internal/orchestrator"

type State int

const (
	Pending State = iota + 1
	Running
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Transition is one state the machine emits. Err is only set for failures
// the watch transport itself caused.
type Transition struct {
	State State
	Err   error
}

// Machine holds the state of one job. It is not safe for concurrent use;
// a session owns exactly one.
type Machine struct {
	identity string
	pending  bool
	running  bool
	done     bool
}

func NewMachine(identity string) *Machine {
	return &Machine{identity: identity}
}

func (m *Machine) Identity() string {
	return m.identity
}

// Done reports whether a terminal state was emitted.
func (m *Machine) Done() bool {
	return m.done
}

// Observe applies one event and returns the transition it causes, if any.
// Events for other jobs never cause a transition. Once Done, nothing does.
func (m *Machine) Observe(e orchestrator.Event) (Transition, bool) {
	if m.done {
		return Transition{}, false
	}
	if e.Type == orchestrator.Error {
		return m.Fail(e.Err), true
	}
	if e.Name != m.identity {
		return Transition{}, false
	}

	switch e.Type {
	case orchestrator.Added:
		if m.pending || m.running {
			return Transition{}, false
		}
		m.pending = true
		return Transition{State: Pending}, true
	case orchestrator.Modified:
		// terminal counters win over active in the same snapshot
		switch {
		case e.Succeeded > 0:
			m.done = true
			return Transition{State: Succeeded}, true
		case e.Failed > 0:
			m.done = true
			return Transition{State: Failed}, true
		case e.Active > 0:
			m.running = true
			return Transition{State: Running}, true
		}
	}
	return Transition{}, false
}

// Fail ends the machine with a failure carrying err.
func (m *Machine) Fail(err error) Transition {
	m.done = true
	return Transition{State: Failed, Err: err}
}
