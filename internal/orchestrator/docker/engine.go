// Package docker runs jobs as containers on a single Docker host. It is meant
// for development without a cluster: there is no TTL cleanup and secret
// backed variables are read from the dispatcher's own environment.
package docker

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"impulse/internal/common"
	"impulse/internal/orchestrator"
	"impulse/internal/task"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"go.uber.org/zap"
)

// LabelTask marks containers owned by the dispatcher so the events stream
// can be filtered server side.
const LabelTask = "impulse.task"

type eventSource interface {
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

type Engine struct {
	cli    *client.Client
	events eventSource
	now    func() time.Time
	logger *zap.Logger
}

var _ orchestrator.Backend = (*Engine)(nil)

func NewEngine(host string, logger *zap.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, err
	}
	return &Engine{cli: cli, events: cli, now: time.Now, logger: logger}, nil
}

func (d *Engine) Close() error {
	return d.cli.Close()
}

// Submit creates and starts a container named after the job. A name
// conflict means the job was already submitted.
func (d *Engine) Submit(ctx context.Context, desc *task.Descriptor) error {
	if desc.ImagePullPolicy == "Always" {
		if err := d.pull(ctx, desc.Image); err != nil {
			return common.WrapErrNo(common.ORCHESTRATOR_UNAVAILABLE, err)
		}
	}

	cfg, hostCfg := containerConfig(desc)
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, desc.Name)
	if err != nil {
		return classify(err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return classify(err)
	}
	d.logger.Debug("container started", zap.String("name", desc.Name), zap.String("id", resp.ID))
	return nil
}

func (d *Engine) pull(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func containerConfig(desc *task.Descriptor) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(desc.Env))
	for _, e := range desc.Env {
		value := e.Value
		if e.SecretRef != nil {
			value = os.Getenv(e.Name)
		}
		env = append(env, e.Name+"="+value)
	}

	labels := map[string]string{LabelTask: desc.Name}
	for k, v := range desc.Labels {
		labels[k] = v
	}

	hostCfg := &container.HostConfig{
		Privileged: desc.Privileged,
		Tmpfs:      map[string]string{},
	}
	for _, v := range desc.Volumes {
		if v.HostPath != "" {
			hostCfg.Binds = append(hostCfg.Binds, v.HostPath+":"+v.MountPath)
			continue
		}
		hostCfg.Tmpfs[v.MountPath] = ""
	}

	return &container.Config{
		Image:  desc.Image,
		Cmd:    desc.Args,
		Env:    env,
		Labels: labels,
	}, hostCfg
}

func classify(err error) error {
	switch {
	case errdefs.IsConflict(err):
		return common.WrapErrNo(common.JOB_ALREADY_EXISTS, err)
	case errdefs.IsInvalidParameter(err), errdefs.IsNotFound(err):
		return common.WrapErrNo(common.JOB_INVALID, err)
	default:
		return common.WrapErrNo(common.ORCHESTRATOR_UNAVAILABLE, err)
	}
}

// Watch follows container lifecycle events for dispatcher-owned containers.
// The stream starts at the moment Watch is called: the daemon replays
// anything that happened between then and the request reaching it, so a
// container submitted right after Watch returns is never missed.
func (d *Engine) Watch(ctx context.Context) (orchestrator.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	armed := d.now()
	msgs, errs := d.events.Events(ctx, events.ListOptions{
		Since: strconv.FormatInt(armed.Unix(), 10),
		Filters: filters.NewArgs(
			filters.Arg("type", string(events.ContainerEventType)),
			filters.Arg("label", LabelTask),
		),
	})
	s := &stream{
		out:     make(chan orchestrator.Event),
		stopped: make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(msgs, errs)
	return s, nil
}

type stream struct {
	out      chan orchestrator.Event
	stopped  chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func (s *stream) Events() <-chan orchestrator.Event {
	return s.out
}

func (s *stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.cancel()
	})
}

func (s *stream) run(msgs <-chan events.Message, errs <-chan error) {
	defer close(s.out)
	for {
		select {
		case <-s.stopped:
			return
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			e, ok := Translate(m)
			if !ok {
				continue
			}
			select {
			case s.out <- e:
			case <-s.stopped:
				return
			}
		case err := <-errs:
			select {
			case <-s.stopped:
				return
			default:
			}
			if err == nil {
				err = io.EOF
			}
			select {
			case s.out <- orchestrator.ErrorEvent(common.WrapErrNo(common.WATCH_TRANSPORT, err)):
			case <-s.stopped:
			}
			s.cancel()
			return
		}
	}
}

// Translate maps a container event onto the job counters: create is the
// job appearing, start makes it active and die finishes it by exit code.
func Translate(m events.Message) (orchestrator.Event, bool) {
	name := m.Actor.Attributes["name"]
	if name == "" {
		return orchestrator.Event{}, false
	}
	switch m.Action {
	case events.ActionCreate:
		return orchestrator.Event{Type: orchestrator.Added, Name: name}, true
	case events.ActionStart:
		return orchestrator.Event{Type: orchestrator.Modified, Name: name, Active: 1}, true
	case events.ActionDie:
		if m.Actor.Attributes["exitCode"] == "0" {
			return orchestrator.Event{Type: orchestrator.Modified, Name: name, Succeeded: 1}, true
		}
		return orchestrator.Event{Type: orchestrator.Modified, Name: name, Failed: 1}, true
	case events.ActionDestroy:
		return orchestrator.Event{Type: orchestrator.Deleted, Name: name}, true
	default:
		return orchestrator.Event{}, false
	}
}
