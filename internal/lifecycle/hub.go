package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"

	"impulse/internal/orchestrator"

	"go.uber.org/zap"
)

var ErrHubClosed = errors.New("hub closed")

// Direct opens a separate watch for every subscription.
type Direct struct {
	source orchestrator.Source
}

func NewDirect(source orchestrator.Source) *Direct {
	return &Direct{source: source}
}

func (d *Direct) Subscribe(ctx context.Context, identity string) (Subscription, error) {
	stream, err := d.source.Watch(ctx)
	if err != nil {
		return nil, err
	}
	return streamSubscription{stream}, nil
}

type streamSubscription struct {
	orchestrator.Stream
}

func (s streamSubscription) Close() {
	s.Stop()
}

// Hub shares one physical watch among all sessions and routes each event
// to the subscriptions registered under the event's job name. A failure of
// the physical watch is delivered to every subscription attached to it; the
// next Subscribe opens a fresh watch.
type Hub struct {
	ctx    context.Context
	source orchestrator.Source
	logger *zap.Logger

	mu      sync.Mutex
	current *physical
	closed  bool
}

// physical is one watch and the subscriptions attached to it, indexed by job name.
type physical struct {
	stream orchestrator.Stream
	subs   map[string]map[*mailbox]struct{}
}

func NewHub(ctx context.Context, source orchestrator.Source, logger *zap.Logger) *Hub {
	return &Hub{ctx: ctx, source: source, logger: logger}
}

func (h *Hub) Subscribe(ctx context.Context, identity string) (Subscription, error) {
	for {
		p, err := h.shared()
		if err != nil {
			return nil, err
		}
		if mb := h.attach(p, identity); mb != nil {
			return mb, nil
		}
		// p failed before we could attach; open a fresh one
	}
}

func (h *Hub) attach(p *physical, identity string) *mailbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.subs == nil {
		return nil
	}
	var mb *mailbox
	mb = newMailbox(func() { h.remove(p, identity, mb) })
	if p.subs[identity] == nil {
		p.subs[identity] = map[*mailbox]struct{}{}
	}
	p.subs[identity][mb] = struct{}{}
	return mb
}

// shared returns the live shared watch, opening one if needed. The lock is
// not held while the watch opens.
func (h *Hub) shared() (*physical, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if p := h.current; p != nil {
		h.mu.Unlock()
		return p, nil
	}
	h.mu.Unlock()

	stream, err := h.source.Watch(h.ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		stream.Stop()
		return nil, ErrHubClosed
	case h.current != nil:
		// lost the race to a concurrent open
		stream.Stop()
		return h.current, nil
	}
	h.current = &physical{stream: stream, subs: map[string]map[*mailbox]struct{}{}}
	h.logger.Info("shared watch opened")
	go h.pump(h.current)
	return h.current, nil
}

// Identities lists the job names with at least one live subscription.
func (h *Hub) Identities() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == nil {
		return nil
	}
	names := make([]string, 0, len(h.current.subs))
	for name := range h.current.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops the shared watch. Live subscriptions receive a stream error.
func (h *Hub) Close() {
	h.mu.Lock()
	p := h.current
	h.current = nil
	h.closed = true
	h.mu.Unlock()

	if p != nil {
		p.stream.Stop()
	}
}

func (h *Hub) pump(p *physical) {
	for ev := range p.stream.Events() {
		if ev.Type == orchestrator.Error {
			h.fail(p, ev)
			return
		}
		h.mu.Lock()
		for mb := range p.subs[ev.Name] {
			mb.push(ev)
		}
		h.mu.Unlock()
	}
	h.fail(p, orchestrator.ErrorEvent(orchestrator.ErrStreamClosed))
}

func (h *Hub) fail(p *physical, ev orchestrator.Event) {
	h.mu.Lock()
	if h.current == p {
		h.current = nil
	}
	subs := p.subs
	p.subs = nil
	h.mu.Unlock()

	h.logger.Warn("shared watch failed", zap.Error(ev.Err), zap.Int("jobs", len(subs)))
	for _, set := range subs {
		for mb := range set {
			mb.push(ev)
		}
	}
	p.stream.Stop()
}

func (h *Hub) remove(p *physical, identity string, mb *mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := p.subs[identity]
	if set == nil {
		return
	}
	delete(set, mb)
	if len(set) == 0 {
		delete(p.subs, identity)
	}
}

// mailbox buffers without bound so one slow session never holds up the
// shared watch.
type mailbox struct {
	mu     sync.Mutex
	queue  []orchestrator.Event
	notify chan struct{}
	out    chan orchestrator.Event
	done   chan struct{}
	once   sync.Once

	onClose func()
}

func newMailbox(onClose func()) *mailbox {
	mb := &mailbox{
		notify:  make(chan struct{}, 1),
		out:     make(chan orchestrator.Event),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go mb.run()
	return mb
}

func (mb *mailbox) Events() <-chan orchestrator.Event {
	return mb.out
}

func (mb *mailbox) Close() {
	mb.once.Do(func() {
		close(mb.done)
		mb.onClose()
	})
}

func (mb *mailbox) push(ev orchestrator.Event) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, ev)
	mb.mu.Unlock()
	select {
	case mb.notify <- struct{}{}:
	default:
	}
}

func (mb *mailbox) pop() (orchestrator.Event, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.queue) == 0 {
		return orchestrator.Event{}, false
	}
	ev := mb.queue[0]
	mb.queue = mb.queue[1:]
	return ev, true
}

func (mb *mailbox) run() {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.notify:
		}
		for {
			ev, ok := mb.pop()
			if !ok {
				break
			}
			select {
			case mb.out <- ev:
			case <-mb.done:
				return
			}
		}
	}
}
