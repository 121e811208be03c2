package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/modules/gateway/acl"
	"github.com/mx-space/realtime/internal/modules/gateway/registry"
)

var (
	ErrHubClosed = errors.New("gateway hub closed")
	ErrHubFull   = errors.New("gateway connection limit reached")
)

// Hub owns every live connection, the subscription registry and the
// liveness sweep.
type Hub struct {
	opts     Options
	verifier Verifier
	policy   *acl.Policy
	broker   Broker
	registry *registry.Registry[*Conn]
	logger   *zap.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	conns   map[*Conn]struct{}
	pending int
	closed  bool
}

func NewHub(verifier Verifier, policy *acl.Policy, broker Broker, logger *zap.Logger, opts Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Hub{
		opts:     opts,
		verifier: verifier,
		policy:   policy,
		broker:   broker,
		registry: registry.New[*Conn](),
		logger:   logger.Named("gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		now:   time.Now,
		conns: make(map[*Conn]struct{}),
	}
}

// SetCheckOrigin installs the origin policy used during upgrade.
func (h *Hub) SetCheckOrigin(check func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = check
}

// Run drives the liveness sweep until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep terminates connections that missed the previous ping and pings the
// rest.
func (h *Hub) sweep() {
	for _, c := range h.snapshot() {
		if c.State() != StateAlive {
			continue
		}
		if !c.heartbeat() {
			c.logger.Info("terminating unresponsive connection")
			c.close("liveness timeout")
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.close("server shutdown")
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}

// reserve claims a slot before the upgrade starts. Claimed slots count
// against MaxConnections until the returned release runs.
func (h *Hub) reserve() (release func(), err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if h.opts.MaxConnections > 0 && len(h.conns)+h.pending >= h.opts.MaxConnections {
		return nil, ErrHubFull
	}
	h.pending++

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.pending--
			h.mu.Unlock()
		})
	}, nil
}

func (h *Hub) track(c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.conns[c] = struct{}{}
	return nil
}

func (h *Hub) forget(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// ConnectionCount returns the number of admitted connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stats returns a snapshot of hub and registry counters.
func (h *Hub) Stats() Stats {
	rs := h.registry.Stats()
	return Stats{
		Connections:   h.ConnectionCount(),
		Channels:      rs.Channels,
		Subscriptions: rs.Subscriptions,
		BrokerReady:   h.broker != nil && h.broker.IsReady(),
	}
}
