package task

import (
	"fmt"
	"strings"

	"impulse/internal/common"
	"impulse/pkg/queue"
)

// Request is a decoded task start event.
type Request struct {
	Pipeline  string
	Job       string
	Task      string
	Build     string
	Image     string
	Command   string
	Args      []string
	Output    queue.Location
	Resources map[string]queue.Location
	Reply     string // optional one-shot address for the terminal status
}

// Decode builds a Request from a start message. Any error it returns is a
// MALFORMED_REQUEST ErrNo.
func Decode(msg queue.Message) (*Request, error) {
	subject, err := queue.ParseStartSubject(msg.Subject)
	if err != nil {
		return nil, common.WrapErrNo(common.MALFORMED_REQUEST, err)
	}
	payload, err := queue.ParseStartPayload(msg.Data)
	if err != nil {
		return nil, common.WrapErrNo(common.MALFORMED_REQUEST, err)
	}

	req := &Request{
		Pipeline:  subject.Pipeline,
		Job:       subject.Job,
		Task:      subject.Task,
		Build:     string(payload.Build),
		Image:     payload.Image,
		Command:   payload.Command,
		Args:      payload.Args,
		Resources: payload.Resources,
		Reply:     msg.Reply,
	}
	if req.Args == nil {
		req.Args = []string{}
	}
	if req.Resources == nil {
		req.Resources = map[string]queue.Location{}
	}
	if payload.Output != nil {
		req.Output = *payload.Output
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks that every identity component is present and delimiter free.
func (r *Request) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"pipeline", r.Pipeline},
		{"job", r.Job},
		{"task", r.Task},
		{"build", r.Build},
	}
	for _, f := range fields {
		if f.value == "" {
			return common.WrapErrNo(common.MALFORMED_REQUEST, fmt.Errorf("%s is required", f.name))
		}
		if strings.ContainsAny(f.value, unsafeChars) {
			return common.WrapErrNo(common.MALFORMED_REQUEST, fmt.Errorf("%s %q contains one of %q", f.name, f.value, unsafeChars))
		}
	}
	return nil
}
