// Package natsbroker maps the topic exchange onto NATS subjects.
// Routing key k on exchange e is published to subject "e.k"; the consumer
// subscribes to "e.>".
package natsbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mx-space/realtime/internal/pkg/broker"
)

const DefaultDialTimeout = 5 * time.Second

var errConnClosed = errors.New("nats connection closed")

type Driver struct {
	url      string
	exchange string
	name     string
	timeout  time.Duration
}

func New(url, exchange, clientName string) *Driver {
	return &Driver{url: url, exchange: exchange, name: clientName, timeout: DefaultDialTimeout}
}

func (d *Driver) Name() string { return "nats" }

func (d *Driver) subject(key string) string { return d.exchange + "." + key }

// connect disables library reconnects; the transport owns retry.
func (d *Driver) connect(ctx context.Context, suffix string, extra ...nats.Option) (*nats.Conn, error) {
	timeout := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	opts := append([]nats.Option{
		nats.Name(d.name + "-" + suffix),
		nats.NoReconnect(),
		nats.Timeout(timeout),
	}, extra...)

	nc, err := nats.Connect(d.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", d.url, err)
	}
	return nc, nil
}

func (d *Driver) Dial(ctx context.Context) (broker.Conn, error) {
	c := &conn{driver: d, done: make(chan error, 1)}
	nc, err := d.connect(ctx, "consumer",
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errConnClosed
			}
			c.fail(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) { c.fail(errConnClosed) }),
	)
	if err != nil {
		return nil, err
	}
	c.nc = nc
	return c, nil
}

func (d *Driver) OpenPublisher(ctx context.Context) (broker.Publisher, error) {
	nc, err := d.connect(ctx, "publisher")
	if err != nil {
		return nil, err
	}
	return &publisher{driver: d, nc: nc}, nil
}

type conn struct {
	driver   *Driver
	nc       *nats.Conn
	done     chan error
	failOnce sync.Once
}

func (c *conn) Consume(ctx context.Context, h broker.Handler) error {
	prefix := c.driver.exchange + "."
	_, err := c.nc.Subscribe(prefix+">", func(m *nats.Msg) {
		h(broker.Delivery{
			RoutingKey: strings.TrimPrefix(m.Subject, prefix),
			Body:       m.Data,
		})
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	// Round-trip so the subscription is registered server-side before the
	// transport reports ready.
	flushCtx, cancel := context.WithTimeout(ctx, c.driver.timeout)
	defer cancel()
	if err := c.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (c *conn) fail(err error) {
	c.failOnce.Do(func() { c.done <- err })
}

func (c *conn) Done() <-chan error { return c.done }

func (c *conn) Close() error {
	c.nc.Close()
	return nil
}

type publisher struct {
	driver *Driver
	nc     *nats.Conn
}

func (p *publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return p.nc.Publish(p.driver.subject(routingKey), body)
}

func (p *publisher) Close() error {
	p.nc.Close()
	return nil
}
