package task

import (
	"sort"
	"strings"

	"impulse/pkg/queue"
)

const (
	fieldSeparator = "|"
	LabelTask      = "task"
)

type SecretKeyRef struct {
	Name string
	Key  string
}

type EnvVar struct {
	Name      string
	Value     string
	SecretRef *SecretKeyRef
}

type Volume struct {
	Name      string
	MountPath string
	HostPath  string // empty means scratch space
}

// Descriptor is the orchestrator-neutral job submission: a single attempt,
// one container, retained for TTLSecondsAfterFinished after completion.
// It is not modified after Build returns it.
type Descriptor struct {
	Name                    string
	ContainerName           string
	Image                   string
	ImagePullPolicy         string
	Args                    []string
	Env                     []EnvVar
	EnvFromConfigMap        string
	Volumes                 []Volume
	Labels                  map[string]string
	TTLSecondsAfterFinished int32
	Privileged              bool
}

// Builder turns requests into descriptors.
type Builder struct {
	tmpl     Template
	queueURL string
}

func NewBuilder(tmpl Template, queueURL string) *Builder {
	return &Builder{tmpl: tmpl, queueURL: queueURL}
}

// Build is pure: it reads the request and the template and allocates a new
// descriptor. The request must have passed Validate.
func (b *Builder) Build(req *Request) (string, *Descriptor) {
	name := req.Identity()
	container := ContainerName(name)

	args := make([]string, 0, len(req.Args)+2)
	args = append(args, req.Image, req.Command)
	args = append(args, req.Args...)

	env := []EnvVar{
		{Name: "NAME", Value: name},
		{Name: "CONTAINER", Value: container},
		{Name: "QUEUE_URL", Value: b.queueURL},
		{Name: "RUNTIME_DIR", Value: b.tmpl.RuntimeDir},
		{Name: "OUTPUT_DIR", Value: b.tmpl.OutputDir},
		{Name: "BUILD", Value: req.Build},
		{Name: "OUTPUT", Value: req.Output.Bucket + fieldSeparator + req.Output.Object},
		{Name: "INPUTS", Value: FlattenResources(req.Resources)},
	}
	if b.tmpl.SecretName != "" {
		for _, envName := range sortedKeys(b.tmpl.SecretKeys) {
			env = append(env, EnvVar{
				Name:      envName,
				SecretRef: &SecretKeyRef{Name: b.tmpl.SecretName, Key: b.tmpl.SecretKeys[envName]},
			})
		}
	}

	volumes := []Volume{
		{Name: container + "-runtime", MountPath: b.tmpl.RuntimeDir},
		{Name: container + "-output", MountPath: b.tmpl.OutputDir},
	}
	if b.tmpl.DockerSocket != "" {
		volumes = append(volumes, Volume{Name: "docker-socket", MountPath: b.tmpl.DockerSocket, HostPath: b.tmpl.DockerSocket})
	}

	labels := map[string]string{}
	for k, v := range b.tmpl.Labels {
		labels[k] = v
	}
	labels[LabelTask] = name

	return name, &Descriptor{
		Name:                    name,
		ContainerName:           container,
		Image:                   b.tmpl.WorkerImage,
		ImagePullPolicy:         b.tmpl.ImagePullPolicy,
		Args:                    args,
		Env:                     env,
		EnvFromConfigMap:        b.tmpl.ConfigMapName,
		Volumes:                 volumes,
		Labels:                  labels,
		TTLSecondsAfterFinished: b.tmpl.TTLSecondsAfterFinished,
		Privileged:              b.tmpl.Privileged,
	}
}

// FlattenResources renders name|bucket|object triples joined by "|", ordered by name.
func FlattenResources(resources map[string]queue.Location) string {
	parts := make([]string, 0, len(resources)*3)
	for _, name := range sortedKeys(resources) {
		loc := resources[name]
		parts = append(parts, name, loc.Bucket, loc.Object)
	}
	return strings.Join(parts, fieldSeparator)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
