// Package bus connects the dispatcher to NATS.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"impulse/pkg/queue"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	clientName   = "impulse-dispatcher"
	drainTimeout = 10 * time.Second
)

var ErrDrainTimeout = errors.New("nats drain timed out")

type Conn struct {
	nc     *nats.Conn
	logger *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func Connect(url string, logger *zap.Logger) (*Conn, error) {
	c := &Conn{logger: logger, closed: make(chan struct{})}
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.closeOnce.Do(func() { close(c.closed) })
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats async error", zap.String("subject", subject), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	c.nc = nc
	return c, nil
}

func (c *Conn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// Subscribe delivers every message on subject to handler. The handler runs
// on the subscription's goroutine and must not block.
func (c *Conn) Subscribe(subject string, handler func(queue.Message)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(queue.Message{Subject: m.Subject, Reply: m.Reply, Data: m.Data})
	})
}

// Flush waits until the server has processed everything sent so far.
func (c *Conn) Flush() error {
	return c.nc.Flush()
}

// Drain stops delivery on every subscription, lets pending handlers and
// publishes finish, then closes the connection. It returns once the
// connection is closed.
func (c *Conn) Drain() error {
	if err := c.nc.Drain(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return nil
	case <-time.After(drainTimeout + time.Second):
		return ErrDrainTimeout
	}
}

// Healthy reports an error unless the connection is currently up.
func (c *Conn) Healthy() error {
	if !c.nc.IsConnected() {
		return fmt.Errorf("nats %s", c.nc.Status())
	}
	return nil
}

func (c *Conn) Close() {
	c.nc.Close()
}
