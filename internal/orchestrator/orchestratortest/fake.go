// Package orchestratortest provides an in-memory orchestrator backend.
package orchestratortest

import (
	"context"
	"fmt"
	"sync"

	"impulse/internal/common"
	"impulse/internal/orchestrator"
	"impulse/internal/task"
)

// Backend keeps submitted jobs by name and fans emitted events out to every
// open stream, the way a namespace watch does.
type Backend struct {
	mu        sync.Mutex
	jobs      map[string]*task.Descriptor
	submitted []string
	streams   []*Stream
	watches   int
	scripts   map[string][]orchestrator.Event

	SubmitErr error
	WatchErr  error
}

var _ orchestrator.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{
		jobs:    map[string]*task.Descriptor{},
		scripts: map[string][]orchestrator.Event{},
	}
}

// Script makes a successful Submit of name emit events afterwards.
func (b *Backend) Script(name string, events ...orchestrator.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[name] = events
}

func (b *Backend) Submit(ctx context.Context, desc *task.Descriptor) error {
	b.mu.Lock()
	if b.SubmitErr != nil {
		err := b.SubmitErr
		b.mu.Unlock()
		return err
	}
	if _, ok := b.jobs[desc.Name]; ok {
		b.mu.Unlock()
		return common.WrapErrNo(common.JOB_ALREADY_EXISTS, fmt.Errorf("jobs.batch %q already exists", desc.Name))
	}
	b.jobs[desc.Name] = desc
	b.submitted = append(b.submitted, desc.Name)
	script := b.scripts[desc.Name]
	b.mu.Unlock()

	for _, ev := range script {
		b.Emit(ev)
	}
	return nil
}

func (b *Backend) Watch(ctx context.Context) (orchestrator.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WatchErr != nil {
		return nil, b.WatchErr
	}
	s := &Stream{ch: make(chan orchestrator.Event, 256)}
	b.streams = append(b.streams, s)
	b.watches++
	return s, nil
}

// Emit delivers ev to every open stream.
func (b *Backend) Emit(ev orchestrator.Event) {
	for _, s := range b.openStreams() {
		s.send(ev)
	}
}

// Fail delivers an error event to every open stream and closes them.
func (b *Backend) Fail(err error) {
	for _, s := range b.openStreams() {
		s.send(orchestrator.ErrorEvent(err))
		s.Stop()
	}
}

func (b *Backend) Submitted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.submitted...)
}

func (b *Backend) Job(name string) (*task.Descriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	desc, ok := b.jobs[name]
	return desc, ok
}

// Watches counts Watch calls.
func (b *Backend) Watches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watches
}

// OpenStreams counts streams not yet stopped.
func (b *Backend) OpenStreams() int {
	return len(b.openStreams())
}

func (b *Backend) openStreams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := make([]*Stream, 0, len(b.streams))
	for _, s := range b.streams {
		if !s.isStopped() {
			open = append(open, s)
		}
	}
	return open
}

type Stream struct {
	mu      sync.Mutex
	ch      chan orchestrator.Event
	stopped bool
}

func (s *Stream) Events() <-chan orchestrator.Event {
	return s.ch
}

func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.ch)
	}
}

func (s *Stream) send(ev orchestrator.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.ch <- ev
}

func (s *Stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
