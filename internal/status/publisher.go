// Package status publishes a task's lifecycle on the bus.
package status

import (
	"encoding/json"
	"errors"
	"sync"

	"impulse/internal/common"
	"impulse/internal/lifecycle"
	"impulse/pkg/queue"
)

// Target names where one task's statuses go.
type Target struct {
	Topic string // the job identity
	Build string
	Reply string // optional
}

// Publisher publishes one task's statuses. Every status goes to the topic;
// the first terminal status also goes to the reply address, if there is one.
// A failed topic publish does not suppress the reply.
type Publisher struct {
	bus    Bus
	target Target

	mu      sync.Mutex
	replied bool
}

func NewPublisher(bus Bus, target Target) *Publisher {
	return &Publisher{bus: bus, target: target}
}

func (p *Publisher) Publish(state lifecycle.State, cause error) error {
	update := queue.StatusUpdate{
		Status: state.String(),
		Build:  p.target.Build,
	}
	if cause != nil {
		e := common.ConvertErr(cause)
		update.Error = &e
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	topicErr := p.bus.Publish(p.target.Topic, data)

	if !state.Terminal() || !p.claimReply() {
		return topicErr
	}
	data, err = json.Marshal(queue.ReplyUpdate{Status: state.String()})
	if err != nil {
		return errors.Join(topicErr, err)
	}
	return errors.Join(topicErr, p.bus.Publish(p.target.Reply, data))
}

// claimReply reports whether the caller gets to send the one reply.
func (p *Publisher) claimReply() bool {
	if p.target.Reply == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replied {
		return false
	}
	p.replied = true
	return true
}
