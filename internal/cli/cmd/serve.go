package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"impulse/internal/bus"
	"impulse/internal/common"
	"impulse/internal/dispatch"
	"impulse/internal/lifecycle"
	"impulse/internal/orchestrator"
	"impulse/internal/orchestrator/docker"
	"impulse/internal/orchestrator/kube"
	"impulse/internal/preflight"
	"impulse/internal/server"
	"impulse/internal/status"
	"impulse/internal/task"
	"impulse/pkg/queue"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand runs the dispatcher until SIGINT or SIGTERM.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Dispatch task start events to the orchestrator and publish their status",
		SilenceUsage: true,
		RunE:         runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := common.InitConf(); err != nil {
		return err
	}
	conf := common.GetConfig()
	common.InitLog(conf.LogPath, conf.LogLevel)
	logger := common.GetLogger()
	defer logger.Sync()

	tmpl := task.DefaultTemplate()
	if conf.JobTemplatePath != "" {
		var err error
		if tmpl, err = task.LoadTemplate(conf.JobTemplatePath); err != nil {
			return err
		}
	}

	backend, closeBackend, err := newBackend(conf, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed, closeFeed := newFeed(ctx, conf, backend, logger)
	defer closeFeed()

	var checker preflight.Checker
	if conf.MinioEndpoint != "" {
		if checker, err = preflight.NewMinioChecker(conf.MinioEndpoint, conf.MinioAccessKey, conf.MinioSecretKey, conf.MinioSecure); err != nil {
			return err
		}
	}

	conn, err := bus.Connect(conf.QueueURL, logger)
	if err != nil {
		return fmt.Errorf("connect %s: %w", conf.QueueURL, err)
	}
	defer conn.Close()

	d := dispatch.New(dispatch.Options{
		Feed:      feed,
		Submitter: backend,
		Bus:       status.NewMirror(conn, status.NewLogSink(logger)),
		Builder:   task.NewBuilder(tmpl, conf.QueueURL),
		Policy:    lifecycle.Policy{MaxLifetime: conf.SessionMaxLifetime},
		Preflight: checker,
		Logger:    logger,
	})

	sub, err := conn.Subscribe(queue.START_SUBJECT, func(m queue.Message) {
		d.Dispatch(ctx, m)
	})
	if err != nil {
		return err
	}

	var admin *server.Server
	if conf.HTTPAddr != "" {
		admin = server.New(conf.HTTPAddr, d.Registry(), conn.Healthy, logger)
		admin.Start()
	}

	logger.Info("dispatcher started",
		zap.String("env", conf.AppEnv),
		zap.String("backend", conf.Backend),
		zap.String("namespace", conf.Namespace),
		zap.String("watch", conf.WatchMode),
		zap.String("subject", queue.START_SUBJECT),
	)

	signals, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-signals.Done()
	logger.Info("shutting down", zap.Int("sessions", d.Registry().Len()))

	if err := sub.Unsubscribe(); err != nil {
		logger.Warn("unsubscribe", zap.Error(err))
	}
	cancel()
	d.Wait()

	if admin != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin api shutdown", zap.Error(err))
		}
	}
	if err := conn.Drain(); err != nil {
		logger.Warn("drain nats", zap.Error(err))
	}
	return nil
}

func newBackend(conf common.Config, logger *zap.Logger) (orchestrator.Backend, func(), error) {
	switch conf.Backend {
	case common.BackendDocker:
		engine, err := docker.NewEngine(conf.DockerHost, logger)
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { engine.Close() }, nil
	default:
		clientset, err := kube.NewClientset(conf.Kubeconfig)
		if err != nil {
			return nil, nil, err
		}
		return kube.NewClient(clientset, conf.Namespace, logger), func() {}, nil
	}
}

func newFeed(ctx context.Context, conf common.Config, source orchestrator.Source, logger *zap.Logger) (lifecycle.Feed, func()) {
	if conf.WatchMode == common.WatchPerTask {
		return lifecycle.NewDirect(source), func() {}
	}
	hub := lifecycle.NewHub(ctx, source, logger)
	return hub, hub.Close
}
