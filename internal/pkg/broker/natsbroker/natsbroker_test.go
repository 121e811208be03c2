package natsbroker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/mx-space/realtime/internal/pkg/broker"
	"github.com/mx-space/realtime/internal/pkg/broker/natsbroker"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type inbox struct {
	mu   sync.Mutex
	msgs []broker.Delivery
}

func (in *inbox) handle(d broker.Delivery) {
	in.mu.Lock()
	in.msgs = append(in.msgs, d)
	in.mu.Unlock()
}

func (in *inbox) snapshot() []broker.Delivery {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]broker.Delivery(nil), in.msgs...)
}

func TestDeliversUnderExchangePrefix(t *testing.T) {
	s := runServer(t)
	d := natsbroker.New(s.ClientURL(), "rt", "test")
	ctx := context.Background()

	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	var in inbox
	if err := conn.Consume(ctx, in.handle); err != nil {
		t.Fatalf("consume: %v", err)
	}

	pub, err := d.OpenPublisher(ctx)
	if err != nil {
		t.Fatalf("open publisher: %v", err)
	}
	defer pub.Close()

	// Outside the exchange; must not be delivered.
	other, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer other.Close()
	if err := other.Publish("elsewhere.public.lobby", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("publish elsewhere: %v", err)
	}
	if err := other.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := pub.Publish(ctx, "public.lobby", []byte(`{"x":2}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "delivery", func() bool { return len(in.snapshot()) > 0 })

	got := in.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	if got[0].RoutingKey != "public.lobby" {
		t.Fatalf("routing key = %q, want public.lobby", got[0].RoutingKey)
	}
	if string(got[0].Body) != `{"x":2}` {
		t.Fatalf("body = %s", got[0].Body)
	}
}

func TestServerShutdownSignalsDone(t *testing.T) {
	s := runServer(t)
	d := natsbroker.New(s.ClientURL(), "rt", "test")
	ctx := context.Background()

	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.Consume(ctx, func(broker.Delivery) {}); err != nil {
		t.Fatalf("consume: %v", err)
	}

	s.Shutdown()
	select {
	case err := <-conn.Done():
		if err == nil {
			t.Fatal("expected a loss error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Done did not fire after server shutdown")
	}
}

func TestTransportLosesReadinessWithServer(t *testing.T) {
	s := runServer(t)
	tr := broker.NewTransport(
		natsbroker.New(s.ClientURL(), "rt", "test"),
		zaptest.NewLogger(t, zaptest.Level(zap.ErrorLevel)),
		broker.WithReconnectDelay(20*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		tr.Run(ctx, func(broker.Delivery) {})
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	waitFor(t, "ready", tr.IsReady)
	if err := tr.Publish(ctx, "user.B", []byte(`{}`)); err != nil {
		t.Fatalf("publish while ready: %v", err)
	}

	s.Shutdown()
	waitFor(t, "unready", func() bool { return !tr.IsReady() })
	if err := tr.Publish(ctx, "user.B", []byte(`{}`)); !errors.Is(err, broker.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}
