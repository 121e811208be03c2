package broker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mx-space/realtime/internal/pkg/broker"
	"github.com/mx-space/realtime/internal/pkg/broker/membroker"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"#", "public.lobby", true},
		{"#", "user", true},
		{"public.*", "public.lobby", true},
		{"public.*", "public.room.42", false},
		{"public.#", "public.room.42", true},
		{"public.#", "public", true},
		{"*.lobby", "public.lobby", true},
		{"user.*", "chat.A", false},
		{"user.#.x", "user.a.b.x", true},
		{"user.#.x", "user.a.b.y", false},
	}
	for _, tc := range cases {
		if got := broker.Match(tc.pattern, tc.key); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}

func TestTransportDeliversAndRecovers(t *testing.T) {
	ex := membroker.New()
	tr := broker.NewTransport(ex, zaptest.NewLogger(t), broker.WithReconnectDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan broker.Delivery, 4)
	go tr.Run(ctx, func(d broker.Delivery) { got <- d })

	if err := tr.Publish(ctx, "public.lobby", []byte(`{}`)); !errors.Is(err, broker.ErrNotReady) && err != nil {
		t.Fatalf("unexpected early publish error: %v", err)
	}
	waitFor(t, "ready", tr.IsReady)

	if err := tr.Publish(ctx, "public.lobby", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case d := <-got:
		if d.RoutingKey != "public.lobby" || string(d.Body) != `{"a":1}` {
			t.Fatalf("unexpected delivery %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	ex.SetAvailable(false)
	waitFor(t, "not ready", func() bool { return !tr.IsReady() })
	if err := tr.Publish(ctx, "public.lobby", []byte(`{}`)); !errors.Is(err, broker.ErrNotReady) {
		t.Fatalf("expected ErrNotReady while down, got %v", err)
	}

	ex.SetAvailable(true)
	waitFor(t, "ready again", tr.IsReady)
	if n := ex.Consumers(); n != 1 {
		t.Fatalf("expected one bound consumer after reconnect, got %d", n)
	}
	if err := tr.Publish(ctx, "chat.A", []byte(`[]`)); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
	select {
	case d := <-got:
		if d.RoutingKey != "chat.A" {
			t.Fatalf("unexpected delivery %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery after recovery")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ex := membroker.New()
	tr := broker.NewTransport(ex, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, func(broker.Delivery) {})
		close(done)
	}()
	waitFor(t, "ready", tr.IsReady)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if tr.IsReady() {
		t.Fatal("transport should not be ready after shutdown")
	}
	if n := ex.Consumers(); n != 0 {
		t.Fatalf("consumer still bound: %d", n)
	}
}

// fakeDriver fails the first dialFailures dials and counts publisher setups.
type fakeDriver struct {
	dialFailures int32
	dials        atomic.Int32
	opens        atomic.Int32
	openDelay    time.Duration
	failPublish  atomic.Int32
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Dial(ctx context.Context) (broker.Conn, error) {
	if d.dials.Add(1) <= d.dialFailures {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{done: make(chan error, 1)}, nil
}

func (d *fakeDriver) OpenPublisher(ctx context.Context) (broker.Publisher, error) {
	d.opens.Add(1)
	time.Sleep(d.openDelay)
	return &fakePublisher{driver: d}, nil
}

type fakeConn struct{ done chan error }

func (c *fakeConn) Consume(context.Context, broker.Handler) error { return nil }
func (c *fakeConn) Done() <-chan error                            { return c.done }
func (c *fakeConn) Close() error                                  { return nil }

type fakePublisher struct{ driver *fakeDriver }

func (p *fakePublisher) Publish(context.Context, string, []byte) error {
	if p.driver.failPublish.Add(-1) >= 0 {
		return errors.New("channel closed")
	}
	return nil
}
func (p *fakePublisher) Close() error { return nil }

func TestConnectRetriesWithFixedDelay(t *testing.T) {
	d := &fakeDriver{dialFailures: 3}
	tr := broker.NewTransport(d, zaptest.NewLogger(t), broker.WithReconnectDelay(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx, func(broker.Delivery) {})

	waitFor(t, "ready", tr.IsReady)
	if n := d.dials.Load(); n != 4 {
		t.Fatalf("expected 4 dial attempts, got %d", n)
	}
}

func TestPublisherSetupIsShared(t *testing.T) {
	d := &fakeDriver{openDelay: 20 * time.Millisecond}
	tr := broker.NewTransport(d, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx, func(broker.Delivery) {})
	waitFor(t, "ready", tr.IsReady)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Publish(ctx, "public.lobby", []byte(`{}`)); err != nil {
				t.Errorf("publish: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := d.opens.Load(); n != 1 {
		t.Fatalf("expected one publisher setup, got %d", n)
	}
}

func TestFailedPublishResetsPublisher(t *testing.T) {
	d := &fakeDriver{}
	d.failPublish.Store(1)
	tr := broker.NewTransport(d, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx, func(broker.Delivery) {})
	waitFor(t, "ready", tr.IsReady)

	if err := tr.Publish(ctx, "public.lobby", []byte(`{}`)); err == nil {
		t.Fatal("expected first publish to fail")
	}
	if err := tr.Publish(ctx, "public.lobby", []byte(`{}`)); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if n := d.opens.Load(); n != 2 {
		t.Fatalf("expected publisher to be reopened, got %d setups", n)
	}
}

func TestCloseMakesTransportUnready(t *testing.T) {
	tr := broker.NewTransport(membroker.New(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx, func(broker.Delivery) {})
	waitFor(t, "ready", tr.IsReady)

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.IsReady() {
		t.Fatal("closed transport reports ready")
	}
	if err := tr.Publish(ctx, "public.lobby", nil); !errors.Is(err, broker.ErrNotReady) {
		t.Fatalf("expected ErrNotReady after close, got %v", err)
	}
}

func TestPublishRejectsMalformedRoutingKeys(t *testing.T) {
	d := &fakeDriver{}
	tr := broker.NewTransport(d, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx, func(broker.Delivery) {})
	waitFor(t, "ready", tr.IsReady)

	for _, key := range []string{
		"",
		"public.lobby\r\nPUB user.B 2",
		"public.>",
		"public.*",
		"public.#",
		"public lobby",
		".public",
		"public.",
		"public..lobby",
		"rt:user.B",
	} {
		if err := tr.Publish(ctx, key, []byte(`{}`)); !errors.Is(err, broker.ErrInvalidRoutingKey) {
			t.Errorf("Publish(%q): expected ErrInvalidRoutingKey, got %v", key, err)
		}
	}
	if n := d.opens.Load(); n != 0 {
		t.Fatalf("malformed keys reached the driver: %d publisher setups", n)
	}
	if err := tr.Publish(ctx, "user.a-b_c@d", []byte(`{}`)); err != nil {
		t.Fatalf("valid key refused: %v", err)
	}
}
