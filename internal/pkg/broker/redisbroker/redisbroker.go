// Package redisbroker maps the topic exchange onto Redis pattern pub/sub.
// Routing key k on exchange e is published to channel "e:k".
package redisbroker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mx-space/realtime/internal/pkg/broker"
	"github.com/mx-space/realtime/internal/pkg/redis"
)

const DefaultPingInterval = 10 * time.Second

type Driver struct {
	url          string
	exchange     string
	pingInterval time.Duration
}

func New(url, exchange string, pingInterval time.Duration) *Driver {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Driver{url: url, exchange: exchange, pingInterval: pingInterval}
}

func (d *Driver) Name() string { return "redis" }

func (d *Driver) channel(key string) string { return d.exchange + ":" + key }

func (d *Driver) Dial(ctx context.Context) (broker.Conn, error) {
	client, err := redis.Connect(ctx, d.url)
	if err != nil {
		return nil, err
	}
	return &conn{
		driver: d,
		client: client,
		done:   make(chan error, 1),
		stop:   make(chan struct{}),
	}, nil
}

func (d *Driver) OpenPublisher(ctx context.Context) (broker.Publisher, error) {
	client, err := redis.Connect(ctx, d.url)
	if err != nil {
		return nil, err
	}
	return &publisher{driver: d, client: client}, nil
}

type conn struct {
	driver *Driver
	client *redis.Client

	done     chan error
	stop     chan struct{}
	failOnce sync.Once
	stopOnce sync.Once
}

func (c *conn) Consume(ctx context.Context, h broker.Handler) error {
	prefix := c.driver.exchange + ":"
	ps, err := c.client.PSubscribe(ctx, prefix+"*")
	if err != nil {
		return err
	}

	go func() {
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-c.stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					c.fail(errors.New("redis subscription closed"))
					return
				}
				h(broker.Delivery{
					RoutingKey: strings.TrimPrefix(msg.Channel, prefix),
					Body:       []byte(msg.Payload),
				})
			}
		}
	}()
	go c.watch()
	return nil
}

// watch pings on an interval; go-redis reconnects pub/sub silently so a
// failed PING is the loss signal.
func (c *conn) watch() {
	ticker := time.NewTicker(c.driver.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.driver.pingInterval)
			err := c.client.Ping(ctx)
			cancel()
			if err != nil {
				c.fail(fmt.Errorf("redis ping: %w", err))
				return
			}
		}
	}
}

func (c *conn) fail(err error) {
	c.failOnce.Do(func() { c.done <- err })
}

func (c *conn) Done() <-chan error { return c.done }

func (c *conn) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		err = c.client.Close()
	})
	return err
}

type publisher struct {
	driver *Driver
	client *redis.Client
}

func (p *publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	return p.client.Publish(ctx, p.driver.channel(routingKey), body)
}

func (p *publisher) Close() error { return p.client.Close() }
