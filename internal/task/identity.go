package task

import "strings"

const (
	Delimiter = "."
	// unsafeChars may not appear in identity components: the delimiter and the
	// bus wildcards.
	unsafeChars = ".*> "
	substitute  = "-"
)

// Identity returns the canonical job name for a request. Equal
// (pipeline, job, task, build) always yield the same name.
func Identity(pipeline, job, task, build string) string {
	return strings.Join([]string{"pipeline", pipeline, "job", job, "task", task, build}, Delimiter)
}

// ContainerName is the identity with the delimiter replaced.
func ContainerName(identity string) string {
	return strings.ReplaceAll(identity, Delimiter, substitute)
}

func (r *Request) Identity() string {
	return Identity(r.Pipeline, r.Job, r.Task, r.Build)
}
