// Package dispatch runs one independent pipeline per task start event:
// decode, build, arm the watch, submit, then publish every transition until
// the task ends.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"impulse/internal/common"
	"impulse/internal/lifecycle"
	"impulse/internal/orchestrator"
	"impulse/internal/preflight"
	"impulse/internal/status"
	"impulse/internal/task"
	"impulse/pkg/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Feed      lifecycle.Feed
	Submitter orchestrator.Submitter
	Bus       status.Bus
	Builder   *task.Builder
	Policy    lifecycle.Policy
	Preflight preflight.Checker // nil skips the object-store check
	Logger    *zap.Logger
}

// Dispatcher shares only the feed, the submitter and the bus between
// pipelines.
type Dispatcher struct {
	feed      lifecycle.Feed
	submitter orchestrator.Submitter
	bus       status.Bus
	builder   *task.Builder
	policy    lifecycle.Policy
	preflight preflight.Checker
	logger    *zap.Logger

	registry *Registry
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		feed:      opts.Feed,
		submitter: opts.Submitter,
		bus:       opts.Bus,
		builder:   opts.Builder,
		policy:    opts.Policy,
		preflight: opts.Preflight,
		logger:    logger,
		registry:  NewRegistry(),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch starts a pipeline for msg and returns immediately. Cancelling ctx
// ends the pipeline without publishing anything further; a message that
// arrives after ctx is cancelled is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg queue.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		d.logger.Warn("shutting down, dropping start event", zap.String("subject", msg.Subject))
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, msg)
	}()
}

// Wait blocks until every started pipeline has returned. Cancel the
// dispatch context first to stop new pipelines from starting.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, msg queue.Message) {
	id := uuid.NewString()
	logger := d.logger.With(zap.String("dispatch_id", id))

	req, err := task.Decode(msg)
	if err != nil {
		logger.Warn("dropping start event", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	name, desc := d.builder.Build(req)
	logger = logger.With(zap.String("name", name))

	d.registry.add(SessionInfo{
		DispatchID: id,
		Identity:   name,
		Build:      req.Build,
		State:      StateArmed,
		StartedAt:  time.Now(),
	})
	defer d.registry.remove(id)

	pub := status.NewPublisher(d.bus, status.Target{Topic: name, Build: req.Build, Reply: req.Reply})
	publish := func(state lifecycle.State, cause error) {
		d.registry.setState(id, state.String())
		if err := pub.Publish(state, cause); err != nil {
			logger.Error("publish status", zap.String("status", state.String()), zap.Error(err))
		}
	}

	if d.preflight != nil {
		if err := d.preflight.Check(ctx, req); err != nil {
			logger.Warn("preflight failed", zap.Error(err))
			publish(lifecycle.Failed, err)
			return
		}
	}

	// the watch is live before the job exists, so no transition is missed
	sub, err := d.feed.Subscribe(ctx, name)
	if err != nil {
		if !errors.Is(err, orchestrator.ErrWatch) {
			err = common.WrapErrNo(common.WATCH_TRANSPORT, err)
		}
		logger.Error("arm watch", zap.Error(err))
		publish(lifecycle.Failed, err)
		return
	}

	if err := d.submitter.Submit(ctx, desc); err != nil {
		sub.Close()
		if ctx.Err() != nil {
			logger.Warn("submit interrupted by shutdown", zap.Error(err))
			return
		}
		logger.Warn("submit job", zap.Error(err))
		publish(lifecycle.Failed, err)
		return
	}
	logger.Info("job submitted", zap.String("build", req.Build))

	lifecycle.NewSession(name, sub, d.policy).Run(ctx, func(tr lifecycle.Transition) {
		if tr.Err != nil {
			logger.Warn("task failed", zap.Error(tr.Err))
		} else {
			logger.Info("task status", zap.String("status", tr.State.String()))
		}
		publish(tr.State, tr.Err)
	})
}
