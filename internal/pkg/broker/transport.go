package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const publisherKey = "publisher"

// Option configures a Transport.
type Option func(*Transport)

// WithReconnectDelay sets the fixed delay between connect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(d) }
		}
	}
}

// WithBackOff swaps the reconnect policy.
func WithBackOff(policy func() backoff.BackOff) Option {
	return func(t *Transport) {
		if policy != nil {
			t.newBackOff = policy
		}
	}
}

// Transport supervises the consuming connection and the lazy publisher.
type Transport struct {
	driver     Driver
	logger     *zap.Logger
	newBackOff func() backoff.BackOff

	mu     sync.RWMutex
	conn   Conn
	ready  bool
	pub    Publisher
	closed bool

	group singleflight.Group
}

func NewTransport(driver Driver, logger *zap.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		driver: driver,
		logger: logger.With(zap.String("broker", driver.Name())),
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(DefaultReconnectDelay)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run connects, consumes into onMessage and reconnects on loss until ctx ends.
func (t *Transport) Run(ctx context.Context, onMessage Handler) {
	for {
		conn, err := t.connect(ctx, onMessage)
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			t.markDown(conn)
			return
		case err := <-conn.Done():
			t.logger.Warn("broker connection lost", zap.Error(err))
			t.markDown(conn)
		}

		if !sleepContext(ctx, t.newBackOff().NextBackOff()) {
			return
		}
	}
}

func (t *Transport) connect(ctx context.Context, onMessage Handler) (Conn, error) {
	var conn Conn
	op := func() error {
		if t.isClosed() {
			return backoff.Permanent(ErrClosed)
		}
		c, err := t.driver.Dial(ctx)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		if err := c.Consume(ctx, onMessage); err != nil {
			_ = c.Close()
			return fmt.Errorf("consume: %w", err)
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		t.logger.Warn("broker connect failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
	}

	policy := backoff.WithContext(t.newBackOff(), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	t.conn = conn
	t.ready = true
	t.mu.Unlock()

	t.logger.Info("broker connected", zap.String("exchange_type", ExchangeType), zap.String("binding", BindAll))
	return conn, nil
}

func (t *Transport) markDown(conn Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.ready = false
	pub := t.pub
	t.pub = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if pub != nil {
		_ = pub.Close()
	}
}

// IsReady reports whether the last connect handshake completed and the
// connection is still up.
func (t *Transport) IsReady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready && t.conn != nil && !t.closed
}

// Publish sends body to the exchange under routingKey. It fails fast with
// ErrNotReady while disconnected. Keys failing CheckRoutingKey never reach
// the driver.
func (t *Transport) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := CheckRoutingKey(routingKey); err != nil {
		return err
	}
	if !t.IsReady() {
		return ErrNotReady
	}
	pub, err := t.publisher(ctx)
	if err != nil {
		return fmt.Errorf("open publisher: %w", err)
	}
	if err := pub.Publish(ctx, routingKey, body); err != nil {
		t.resetPublisher(pub)
		return fmt.Errorf("publish %q: %w", routingKey, err)
	}
	return nil
}

func (t *Transport) publisher(ctx context.Context) (Publisher, error) {
	t.mu.RLock()
	pub := t.pub
	t.mu.RUnlock()
	if pub != nil {
		return pub, nil
	}

	v, err, _ := t.group.Do(publisherKey, func() (interface{}, error) {
		t.mu.RLock()
		existing := t.pub
		t.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		created, err := t.driver.OpenPublisher(ctx)
		if err != nil {
			return nil, err
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			_ = created.Close()
			return nil, ErrClosed
		}
		t.pub = created
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Publisher), nil
}

func (t *Transport) resetPublisher(pub Publisher) {
	t.mu.Lock()
	if t.pub != pub {
		t.mu.Unlock()
		return
	}
	t.pub = nil
	t.mu.Unlock()
	_ = pub.Close()
}

// Close releases the connection and publisher. Run returns on its next step.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, pub := t.conn, t.pub
	t.conn, t.pub, t.ready = nil, nil, false
	t.mu.Unlock()

	var errs []error
	if pub != nil {
		errs = append(errs, pub.Close())
	}
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
