package common

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

const (
	BackendKubernetes = "kubernetes"
	BackendDocker     = "docker"

	WatchShared  = "shared"
	WatchPerTask = "per-task"

	DefaultNamespace = "default"
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Config is the process configuration, read from the environment.
type Config struct {
	AppEnv    string // environment name (production, development)
	QueueURL  string // NATS endpoint, required
	Namespace string // orchestrator namespace

	Backend    string // kubernetes or docker
	Kubeconfig string // empty means in-cluster
	DockerHost string

	WatchMode          string        // shared or per-task
	SessionMaxLifetime time.Duration // 0 means a session never expires
	JobTemplatePath    string

	HTTPAddr string // admin API, empty disables it
	LogPath  string
	LogLevel string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool
}

var config Config

func GetConfig() Config {
	return config
}

// InitConf loads the configuration into the package-level value returned by GetConfig.
func InitConf() error {
	c, err := LoadConfig()
	if err != nil {
		return err
	}
	config = c
	return nil
}

// LoadConfig reads and validates the environment. A missing queue URL or a
// malformed namespace is fatal for the process.
func LoadConfig() (Config, error) {
	lifetime, err := time.ParseDuration(getEnv("SESSION_MAX_LIFETIME", "0s"))
	if err != nil {
		return Config{}, fmt.Errorf("SESSION_MAX_LIFETIME: %w", err)
	}
	secure, _ := strconv.ParseBool(getEnv("MINIO_SECURE", "false"))

	c := Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		QueueURL:           getEnv("QUEUE_URL", ""),
		Namespace:          getEnv("NAMESPACE", DefaultNamespace),
		Backend:            getEnv("BACKEND", BackendKubernetes),
		Kubeconfig:         getEnv("KUBECONFIG", ""),
		DockerHost:         getEnv("DOCKER_HOST", "unix:///var/run/docker.sock"),
		WatchMode:          getEnv("WATCH_MODE", WatchShared),
		SessionMaxLifetime: lifetime,
		JobTemplatePath:    getEnv("JOB_TEMPLATE", ""),
		HTTPAddr:           getEnv("HTTP_ADDR", ""),
		LogPath:            getEnv("LOG_PATH", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MinioEndpoint:      getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:     getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:     getEnv("MINIO_SECRET_KEY", ""),
		MinioSecure:        secure,
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.QueueURL == "" {
		return errors.New("QUEUE_URL is required")
	}
	if !namespacePattern.MatchString(c.Namespace) {
		return fmt.Errorf("NAMESPACE=%s: bad namespace", c.Namespace)
	}
	switch c.Backend {
	case BackendKubernetes, BackendDocker:
	default:
		return fmt.Errorf("BACKEND=%s: expected %s or %s", c.Backend, BackendKubernetes, BackendDocker)
	}
	switch c.WatchMode {
	case WatchShared, WatchPerTask:
	default:
		return fmt.Errorf("WATCH_MODE=%s: expected %s or %s", c.WatchMode, WatchShared, WatchPerTask)
	}
	if c.SessionMaxLifetime < 0 {
		return errors.New("SESSION_MAX_LIFETIME must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
