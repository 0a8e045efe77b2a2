package lifecycle

import (
	"context"
	"fmt"
	"time"

	"impulse/internal/common"
	"impulse/internal/orchestrator"
)

// Subscription is a view of the job stream that a session owns.
type Subscription interface {
	Events() <-chan orchestrator.Event
	Close()
}

// Feed hands out subscriptions. Subscribe must return only once the
// underlying watch is established, so that a job submitted afterwards
// cannot finish unobserved.
type Feed interface {
	Subscribe(ctx context.Context, identity string) (Subscription, error)
}

// Policy bounds a session. The zero value never gives up on a job.
type Policy struct {
	MaxLifetime time.Duration
}

// Session drives one Machine from one Subscription.
type Session struct {
	machine *Machine
	sub     Subscription
	policy  Policy
}

func NewSession(identity string, sub Subscription, policy Policy) *Session {
	return &Session{
		machine: NewMachine(identity),
		sub:     sub,
		policy:  policy,
	}
}

func (s *Session) Identity() string {
	return s.machine.Identity()
}

// Run calls emit for every transition in stream order and returns after a
// terminal one, closing the subscription. Cancelling ctx ends the session
// without emitting anything.
func (s *Session) Run(ctx context.Context, emit func(Transition)) {
	defer s.sub.Close()

	var expire <-chan time.Time
	if s.policy.MaxLifetime > 0 {
		timer := time.NewTimer(s.policy.MaxLifetime)
		defer timer.Stop()
		expire = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-expire:
			err := fmt.Errorf("no terminal status after %s", s.policy.MaxLifetime)
			emit(s.machine.Fail(common.WrapErrNo(common.SESSION_EXPIRED, err)))
			return
		case e, ok := <-s.sub.Events():
			if ctx.Err() != nil {
				return
			}
			if !ok {
				emit(s.machine.Fail(orchestrator.ErrStreamClosed))
				return
			}
			tr, changed := s.machine.Observe(e)
			if !changed {
				continue
			}
			emit(tr)
			if s.machine.Done() {
				return
			}
		}
	}
}
