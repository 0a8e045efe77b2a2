package status

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"impulse/internal/common"
	"impulse/internal/lifecycle"
	"impulse/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	subject string
	data    string
}

type memoryBus struct {
	mu   sync.Mutex
	msgs []sent
	err  error
	// failing subjects are rejected with err; empty means every subject
	failing map[string]bool
}

func (b *memoryBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil && (len(b.failing) == 0 || b.failing[subject]) {
		return b.err
	}
	b.msgs = append(b.msgs, sent{subject, string(data)})
	return nil
}

type memorySink struct {
	subjects []string
}

func (s *memorySink) Record(subject string, data []byte) {
	s.subjects = append(s.subjects, subject)
}

const topic = "pipeline.p1.job.j1.task.t1.7"

func TestPublisher_Timeline(t *testing.T) {
	bus := &memoryBus{}
	p := NewPublisher(bus, Target{Topic: topic, Build: "7"})

	require.NoError(t, p.Publish(lifecycle.Pending, nil))
	require.NoError(t, p.Publish(lifecycle.Running, nil))
	require.NoError(t, p.Publish(lifecycle.Succeeded, nil))

	assert.Equal(t, []sent{
		{topic, `{"status":"pending","build":"7"}`},
		{topic, `{"status":"running","build":"7"}`},
		{topic, `{"status":"succeeded","build":"7"}`},
	}, bus.msgs)
}

func TestPublisher_FailureCarriesError(t *testing.T) {
	bus := &memoryBus{}
	p := NewPublisher(bus, Target{Topic: topic, Build: "7"})

	cause := common.WrapErrNo(common.JOB_ALREADY_EXISTS, errors.New(`jobs.batch "x" already exists`))
	require.NoError(t, p.Publish(lifecycle.Failed, cause))

	require.Len(t, bus.msgs, 1)
	var update queue.StatusUpdate
	require.NoError(t, json.Unmarshal([]byte(bus.msgs[0].data), &update))
	assert.Equal(t, queue.STATUS_FAILED, update.Status)
	require.NotNil(t, update.Error)
	assert.Equal(t, common.JOB_ALREADY_EXISTS, update.Error.ErrCode)
	assert.Contains(t, update.Error.ErrMsg, "already exists")
}

func TestPublisher_ReplyOnlyOnceAndOnlyTerminal(t *testing.T) {
	bus := &memoryBus{}
	p := NewPublisher(bus, Target{Topic: topic, Build: "7", Reply: "inbox.123"})

	require.NoError(t, p.Publish(lifecycle.Pending, nil))
	require.NoError(t, p.Publish(lifecycle.Running, nil))
	require.NoError(t, p.Publish(lifecycle.Failed, nil))
	require.NoError(t, p.Publish(lifecycle.Failed, nil))

	var replies []sent
	for _, m := range bus.msgs {
		if m.subject == "inbox.123" {
			replies = append(replies, m)
		}
	}
	assert.Equal(t, []sent{{"inbox.123", `{"status":"failed"}`}}, replies)
	assert.Equal(t, sent{topic, `{"status":"failed","build":"7"}`}, bus.msgs[2])
	assert.Equal(t, "inbox.123", bus.msgs[3].subject)
}

func TestPublisher_BusError(t *testing.T) {
	bus := &memoryBus{err: errors.New("nats: connection closed")}
	p := NewPublisher(bus, Target{Topic: topic, Build: "7", Reply: "inbox.1"})
	assert.Error(t, p.Publish(lifecycle.Succeeded, nil))
}

func TestPublisher_TopicErrorStillReplies(t *testing.T) {
	bus := &memoryBus{err: errors.New("nats: maximum payload exceeded"), failing: map[string]bool{topic: true}}
	p := NewPublisher(bus, Target{Topic: topic, Build: "7", Reply: "inbox.9"})

	err := p.Publish(lifecycle.Succeeded, nil)
	assert.ErrorContains(t, err, "maximum payload exceeded")
	assert.Equal(t, []sent{{"inbox.9", `{"status":"succeeded"}`}}, bus.msgs)

	require.Error(t, p.Publish(lifecycle.Succeeded, nil))
	assert.Len(t, bus.msgs, 1)
}

func TestMirror_RecordsBeforeSending(t *testing.T) {
	bus := &memoryBus{}
	sink := &memorySink{}
	m := NewMirror(bus, sink)

	require.NoError(t, m.Publish("a", []byte(`{}`)))
	bus.err = errors.New("down")
	assert.Error(t, m.Publish("b", []byte(`{}`)))

	assert.Equal(t, []string{"a", "b"}, sink.subjects)
	assert.Len(t, bus.msgs, 1)
}
