package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"impulse/internal/common"
)

// START_SUBJECT is the subscription pattern for task start events. The three
// wildcards carry pipeline, job and task in that order.
const START_SUBJECT = "pipeline.*.job.*.task.*.start"

const (
	STATUS_PENDING   = "pending"
	STATUS_RUNNING   = "running"
	STATUS_FAILED    = "failed"
	STATUS_SUCCEEDED = "succeeded"
)

// Message is one inbound bus delivery.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

type Location struct {
	Bucket string `json:"bucket"`
	Object string `json:"object"`
}

// BuildID accepts either a JSON string or a JSON number. Numbers are
// normalized to their shortest decimal form, so 7, 7.0 and 7e0 are all "7".
type BuildID string

func (b *BuildID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = BuildID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("build must be a string or a number: %w", err)
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("build must be a string or a number: %w", err)
	}
	*b = BuildID(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

type StartPayload struct {
	Image     string              `json:"image"`
	Command   string              `json:"command"`
	Args      []string            `json:"args"`
	Build     BuildID             `json:"build"`
	Output    *Location           `json:"output,omitempty"`
	Resources map[string]Location `json:"resources"`
}

// StatusUpdate is published on the task's canonical topic.
type StatusUpdate struct {
	Status string        `json:"status"` // pending/running/failed/succeeded
	Build  string        `json:"build"`
	Error  *common.ErrNo `json:"error,omitempty"`
}

// ReplyUpdate is sent once to the start event's reply address on a terminal status.
type ReplyUpdate struct {
	Status string `json:"status"` // failed/succeeded
}

type StartSubject struct {
	Pipeline string
	Job      string
	Task     string
}

var ErrBadSubject = errors.New("subject does not match " + START_SUBJECT)

// ParseStartSubject extracts pipeline, job and task from a concrete start subject.
func ParseStartSubject(subject string) (StartSubject, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 7 ||
		parts[0] != "pipeline" || parts[2] != "job" || parts[4] != "task" || parts[6] != "start" {
		return StartSubject{}, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	return StartSubject{Pipeline: parts[1], Job: parts[3], Task: parts[5]}, nil
}

func ParseStartPayload(data []byte) (*StartPayload, error) {
	var payload StartPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
