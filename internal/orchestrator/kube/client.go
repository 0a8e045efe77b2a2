package kube

import (
	"context"
	"sync"

	"impulse/internal/common"
	"impulse/internal/orchestrator"
	"impulse/internal/task"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"
	watchtools "k8s.io/client-go/tools/watch"
)

// Client submits and watches batch/v1 Jobs in one namespace.
type Client struct {
	clientset kubernetes.Interface
	namespace string
	logger    *zap.Logger
}

var _ orchestrator.Backend = (*Client)(nil)

func NewClient(clientset kubernetes.Interface, namespace string, logger *zap.Logger) *Client {
	return &Client{clientset: clientset, namespace: namespace, logger: logger}
}

// NewClientset uses the in-cluster service account unless a kubeconfig path is given.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

func (c *Client) Submit(ctx context.Context, desc *task.Descriptor) error {
	_, err := c.clientset.BatchV1().Jobs(c.namespace).Create(ctx, NewJob(desc), metav1.CreateOptions{})
	if err != nil {
		return classify(err)
	}
	c.logger.Debug("job created", zap.String("namespace", c.namespace), zap.String("name", desc.Name))
	return nil
}

func classify(err error) error {
	switch {
	case apierrors.IsAlreadyExists(err):
		return common.WrapErrNo(common.JOB_ALREADY_EXISTS, err)
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return common.WrapErrNo(common.JOB_INVALID, err)
	default:
		return common.WrapErrNo(common.ORCHESTRATOR_UNAVAILABLE, err)
	}
}

// Watch follows Jobs from the namespace's current resource version. The API
// server closes watches routinely; those are resumed from the last seen
// version. Only an expired version or a failed reconnect ends the stream.
func (c *Client) Watch(ctx context.Context) (orchestrator.Stream, error) {
	jobs := c.clientset.BatchV1().Jobs(c.namespace)
	list, err := jobs.List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return nil, common.WrapErrNo(common.WATCH_TRANSPORT, err)
	}
	w, err := watchtools.NewRetryWatcher(list.ResourceVersion, &cache.ListWatch{
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return jobs.Watch(ctx, options)
		},
	})
	if err != nil {
		return nil, common.WrapErrNo(common.WATCH_TRANSPORT, err)
	}
	c.logger.Debug("job watch armed", zap.String("namespace", c.namespace), zap.String("resourceVersion", list.ResourceVersion))
	return newStream(w), nil
}

type stream struct {
	w        watch.Interface
	out      chan orchestrator.Event
	stopped  chan struct{}
	stopOnce sync.Once
}

func newStream(w watch.Interface) *stream {
	s := &stream{
		w:       w,
		out:     make(chan orchestrator.Event),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *stream) Events() <-chan orchestrator.Event {
	return s.out
}

func (s *stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.w.Stop()
	})
}

func (s *stream) run() {
	defer close(s.out)
	for {
		select {
		case <-s.stopped:
			return
		case ev, ok := <-s.w.ResultChan():
			if !ok {
				select {
				case <-s.stopped:
				default:
					s.send(orchestrator.ErrorEvent(orchestrator.ErrStreamClosed))
				}
				return
			}
			e, ok := translate(ev)
			if !ok {
				continue
			}
			if !s.send(e) {
				return
			}
			if e.Type == orchestrator.Error {
				s.w.Stop()
				return
			}
		}
	}
}

func (s *stream) send(e orchestrator.Event) bool {
	select {
	case s.out <- e:
		return true
	case <-s.stopped:
		return false
	}
}

func translate(ev watch.Event) (orchestrator.Event, bool) {
	var t orchestrator.EventType
	switch ev.Type {
	case watch.Added:
		t = orchestrator.Added
	case watch.Modified:
		t = orchestrator.Modified
	case watch.Deleted:
		t = orchestrator.Deleted
	case watch.Error:
		return orchestrator.ErrorEvent(common.WrapErrNo(common.WATCH_TRANSPORT, apierrors.FromObject(ev.Object))), true
	default:
		return orchestrator.Event{}, false
	}
	job, ok := ev.Object.(*batchv1.Job)
	if !ok {
		return orchestrator.Event{}, false
	}
	return orchestrator.Event{
		Type:      t,
		Name:      job.Name,
		Active:    job.Status.Active,
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}, true
}
