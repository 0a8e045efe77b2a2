package docker

import (
	"context"
	"testing"
	"time"

	"impulse/internal/orchestrator"
	"impulse/internal/task"
	"impulse/pkg/queue"

	"github.com/docker/docker/api/types/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func containerEvent(action events.Action, attrs map[string]string) events.Message {
	return events.Message{
		Type:   events.ContainerEventType,
		Action: action,
		Actor:  events.Actor{ID: "abc123", Attributes: attrs},
	}
}

func TestTranslate(t *testing.T) {
	name := "pipeline.p.job.j.task.t.1"
	tests := []struct {
		desc  string
		msg   events.Message
		want  orchestrator.Event
		found bool
	}{
		{"create", containerEvent(events.ActionCreate, map[string]string{"name": name}), orchestrator.Event{Type: orchestrator.Added, Name: name}, true},
		{"start", containerEvent(events.ActionStart, map[string]string{"name": name}), orchestrator.Event{Type: orchestrator.Modified, Name: name, Active: 1}, true},
		{"die ok", containerEvent(events.ActionDie, map[string]string{"name": name, "exitCode": "0"}), orchestrator.Event{Type: orchestrator.Modified, Name: name, Succeeded: 1}, true},
		{"die failed", containerEvent(events.ActionDie, map[string]string{"name": name, "exitCode": "137"}), orchestrator.Event{Type: orchestrator.Modified, Name: name, Failed: 1}, true},
		{"destroy", containerEvent(events.ActionDestroy, map[string]string{"name": name}), orchestrator.Event{Type: orchestrator.Deleted, Name: name}, true},
		{"attach ignored", containerEvent(events.ActionAttach, map[string]string{"name": name}), orchestrator.Event{}, false},
		{"nameless ignored", containerEvent(events.ActionStart, map[string]string{}), orchestrator.Event{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, ok := Translate(tt.msg)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerConfig(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY", "local-access")
	req := &task.Request{
		Pipeline: "p", Job: "j", Task: "t", Build: "3",
		Image: "alpine", Command: "echo", Args: []string{"hi"},
		Resources: map[string]queue.Location{},
	}
	_, desc := task.NewBuilder(task.DefaultTemplate(), "nats://q").Build(req)

	cfg, hostCfg := containerConfig(desc)
	assert.Equal(t, "aerkenemesis/worker:latest", cfg.Image)
	assert.Equal(t, []string{"alpine", "echo", "hi"}, []string(cfg.Cmd))
	assert.Equal(t, desc.Name, cfg.Labels[LabelTask])
	assert.Contains(t, cfg.Env, "MINIO_ACCESS_KEY=local-access")
	assert.Contains(t, cfg.Env, "BUILD=3")
	assert.True(t, hostCfg.Privileged)
	assert.Equal(t, []string{"/var/run/docker.sock:/var/run/docker.sock"}, hostCfg.Binds)
	assert.Contains(t, hostCfg.Tmpfs, "/runtime")
	assert.Contains(t, hostCfg.Tmpfs, "/output")
}

type recordedEvents struct {
	opts events.ListOptions
	msgs chan events.Message
	errs chan error
}

func (r *recordedEvents) Events(ctx context.Context, opts events.ListOptions) (<-chan events.Message, <-chan error) {
	r.opts = opts
	return r.msgs, r.errs
}

func TestWatch_ReplaysFromArmTime(t *testing.T) {
	name := "pipeline.p.job.j.task.t.1"
	armed := time.Unix(1700000000, 500)
	src := &recordedEvents{msgs: make(chan events.Message, 3), errs: make(chan error)}
	// events the daemon replays for a container that ran before the request landed
	src.msgs <- containerEvent(events.ActionCreate, map[string]string{"name": name})
	src.msgs <- containerEvent(events.ActionStart, map[string]string{"name": name})
	src.msgs <- containerEvent(events.ActionDie, map[string]string{"name": name, "exitCode": "0"})

	d := &Engine{events: src, now: func() time.Time { return armed }, logger: zap.NewNop()}
	s, err := d.Watch(context.Background())
	require.NoError(t, err)
	defer s.Stop()

	assert.Equal(t, "1700000000", src.opts.Since)
	assert.ElementsMatch(t, []string{"type=container", "label=" + LabelTask}, filterPairs(src.opts))

	var got []orchestrator.Event
	for len(got) < 3 {
		select {
		case e := <-s.Events():
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events", len(got))
		}
	}
	assert.Equal(t, []orchestrator.Event{
		{Type: orchestrator.Added, Name: name},
		{Type: orchestrator.Modified, Name: name, Active: 1},
		{Type: orchestrator.Modified, Name: name, Succeeded: 1},
	}, got)
}

func filterPairs(opts events.ListOptions) []string {
	var pairs []string
	for _, key := range opts.Filters.Keys() {
		for _, v := range opts.Filters.Get(key) {
			pairs = append(pairs, key+"="+v)
		}
	}
	return pairs
}
