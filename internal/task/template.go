package task

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Template holds the ambient part of every job: the worker that wraps the
// task's own image, its storage credentials and mounts.
type Template struct {
	WorkerImage             string            `yaml:"workerImage"`
	ImagePullPolicy         string            `yaml:"imagePullPolicy"`
	TTLSecondsAfterFinished int32             `yaml:"ttlSecondsAfterFinished"`
	RuntimeDir              string            `yaml:"runtimeDir"`
	OutputDir               string            `yaml:"outputDir"`
	SecretName              string            `yaml:"secretName"`
	SecretKeys              map[string]string `yaml:"secretKeys"` // env var -> secret key
	ConfigMapName           string            `yaml:"configMapName"`
	DockerSocket            string            `yaml:"dockerSocket"`
	Privileged              bool              `yaml:"privileged"`
	Labels                  map[string]string `yaml:"labels,omitempty"`
}

func DefaultTemplate() Template {
	return Template{
		WorkerImage:             "aerkenemesis/worker:latest",
		ImagePullPolicy:         "Always",
		TTLSecondsAfterFinished: 120,
		RuntimeDir:              "/runtime",
		OutputDir:               "/output",
		SecretName:              "impulse-drive-minio",
		SecretKeys: map[string]string{
			"MINIO_ACCESS_KEY": "access-key",
			"MINIO_SECRET_KEY": "secret-key",
		},
		ConfigMapName: "impulse-drive-services",
		DockerSocket:  "/var/run/docker.sock",
		Privileged:    true,
	}
}

// ParseTemplate overlays yamlContent on the defaults. Fields set in the
// file replace the default value whole, maps included.
func ParseTemplate(yamlContent []byte) (Template, error) {
	tmpl := DefaultTemplate()
	var doc yaml.Node
	if err := yaml.Unmarshal(yamlContent, &doc); err != nil {
		return Template{}, err
	}
	if len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			for i := 0; i+1 < len(root.Content); i += 2 {
				switch root.Content[i].Value {
				case "secretKeys":
					tmpl.SecretKeys = nil
				case "labels":
					tmpl.Labels = nil
				}
			}
		}
		if err := root.Decode(&tmpl); err != nil {
			return Template{}, err
		}
	}
	if tmpl.WorkerImage == "" {
		return Template{}, fmt.Errorf("workerImage is required")
	}
	if tmpl.TTLSecondsAfterFinished < 0 {
		return Template{}, fmt.Errorf("ttlSecondsAfterFinished must not be negative")
	}
	return tmpl, nil
}

// LoadTemplate reads a template file; an empty path yields the defaults.
func LoadTemplate(path string) (Template, error) {
	if path == "" {
		return DefaultTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, err
	}
	return ParseTemplate(data)
}
