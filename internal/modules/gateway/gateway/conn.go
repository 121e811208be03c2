package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mx-space/realtime/internal/pkg/jwt"
)

// State is a connection lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateAlive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateAlive:
		return "alive"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// canTransition lists the allowed edges. closed is terminal.
func canTransition(from, to State) bool {
	switch {
	case from == StateClosed:
		return false
	case to == StateClosed:
		return true
	case from == StateConnecting && to == StateAuthenticated:
		return true
	case from == StateAuthenticated && to == StateAlive:
		return true
	default:
		return false
	}
}

// Conn is one admitted socket.
type Conn struct {
	id       string
	identity jwt.Identity
	hub      *Hub
	logger   *zap.Logger

	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	alive atomic.Bool

	mu    sync.Mutex
	state State
}

func newConn(h *Hub, id string) *Conn {
	return &Conn{
		id:     id,
		hub:    h,
		logger: h.logger.With(zap.String("conn", id)),
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) Identity() jwt.Identity { return c.identity }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) authenticate(id jwt.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, StateAuthenticated) {
		return fmt.Errorf("conn %s: %s -> %s not allowed", c.id, c.state, StateAuthenticated)
	}
	c.identity = id
	c.state = StateAuthenticated
	c.logger = c.logger.With(zap.String("user", id.ID), zap.String("role", id.Role))
	return nil
}

// admit attaches the upgraded socket and marks the connection alive.
func (c *Conn) admit(ws *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, StateAlive) {
		return fmt.Errorf("conn %s: %s -> %s not allowed", c.id, c.state, StateAlive)
	}
	c.ws = ws
	c.state = StateAlive
	c.alive.Store(true)

	ws.SetReadLimit(c.hub.opts.ReadLimit)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return nil
}

// close moves the connection to closed. Registry cleanup happens here,
// exactly once, before the socket is released.
func (c *Conn) close(reason string) bool {
	c.mu.Lock()
	if !canTransition(c.state, StateClosed) {
		c.mu.Unlock()
		return false
	}
	prev := c.state
	c.state = StateClosed
	ws := c.ws
	c.mu.Unlock()

	left := c.hub.registry.Cleanup(c)
	c.hub.forget(c)
	close(c.done)

	if ws != nil {
		deadline := time.Now().Add(c.hub.opts.WriteTimeout)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		_ = ws.Close()
	}

	c.logger.Debug("connection closed",
		zap.String("reason", reason),
		zap.Stringer("from", prev),
		zap.Strings("channels", left),
	)
	return true
}

// enqueue hands a frame to the writer. A full queue drops the frame.
func (c *Conn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		c.logger.Warn("send queue full, dropping frame", zap.Int("size", len(msg)))
		return false
	}
}

// heartbeat runs one liveness step. It reports false when the peer did not
// answer the previous ping.
func (c *Conn) heartbeat() bool {
	if !c.alive.Swap(false) {
		return false
	}
	deadline := time.Now().Add(c.hub.opts.WriteTimeout)
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		c.logger.Debug("ping failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Conn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			reason := "read error"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				reason = "peer closed"
			} else {
				c.logger.Debug("read failed", zap.Error(err))
			}
			c.close(reason)
			return
		}
		c.hub.route(c, data)
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.close("write error")
				return
			}
		}
	}
}
