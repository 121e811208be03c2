// Package membroker is an in-process topic exchange for single-node
// deployments and tests.
package membroker

import (
	"context"
	"errors"
	"sync"

	"github.com/mx-space/realtime/internal/pkg/broker"
)

var ErrUnavailable = errors.New("in-memory exchange unavailable")

// Exchange routes published messages to every consuming connection whose
// binding matches the routing key.
type Exchange struct {
	mu        sync.RWMutex
	available bool
	conns     map[*conn]struct{}
}

func New() *Exchange {
	return &Exchange{available: true, conns: make(map[*conn]struct{})}
}

func (e *Exchange) Name() string { return "memory" }

// SetAvailable simulates an outage. Going unavailable drops every
// consuming connection and makes Dial and Publish fail.
func (e *Exchange) SetAvailable(available bool) {
	e.mu.Lock()
	e.available = available
	var dropped []*conn
	if !available {
		for c := range e.conns {
			dropped = append(dropped, c)
		}
		e.conns = make(map[*conn]struct{})
	}
	e.mu.Unlock()

	for _, c := range dropped {
		c.fail(ErrUnavailable)
	}
}

// Consumers reports how many connections are bound.
func (e *Exchange) Consumers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.conns)
}

func (e *Exchange) Dial(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.available {
		return nil, ErrUnavailable
	}
	return &conn{exchange: e, done: make(chan error, 1)}, nil
}

func (e *Exchange) OpenPublisher(ctx context.Context) (broker.Publisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.available {
		return nil, ErrUnavailable
	}
	return &publisher{exchange: e}, nil
}

func (e *Exchange) publish(routingKey string, body []byte) error {
	e.mu.RLock()
	if !e.available {
		e.mu.RUnlock()
		return ErrUnavailable
	}
	targets := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		if broker.Match(c.binding, routingKey) {
			targets = append(targets, c)
		}
	}
	e.mu.RUnlock()

	for _, c := range targets {
		msg := make([]byte, len(body))
		copy(msg, body)
		c.deliver(broker.Delivery{RoutingKey: routingKey, Body: msg})
	}
	return nil
}

type conn struct {
	exchange *Exchange
	binding  string
	done     chan error

	mu       sync.RWMutex
	handler  broker.Handler
	failOnce sync.Once
}

func (c *conn) Consume(ctx context.Context, h broker.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.handler = h
	c.binding = broker.BindAll
	c.mu.Unlock()

	e := c.exchange
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return ErrUnavailable
	}
	e.conns[c] = struct{}{}
	return nil
}

func (c *conn) deliver(d broker.Delivery) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(d)
	}
}

func (c *conn) fail(err error) {
	c.failOnce.Do(func() { c.done <- err })
}

func (c *conn) Done() <-chan error { return c.done }

func (c *conn) Close() error {
	e := c.exchange
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()

	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}

type publisher struct {
	exchange *Exchange
	closed   bool
	mu       sync.Mutex
}

func (p *publisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("publisher closed")
	}
	return p.exchange.publish(routingKey, body)
}

func (p *publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
