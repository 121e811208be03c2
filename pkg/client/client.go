// Package client keeps one websocket to the realtime gateway for a signed-in
// user. Subscriptions are held locally and replayed whenever a new socket
// opens, so callers subscribe once and survive reconnects.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrClosed       = errors.New("client: closed")
)

// State is the socket lifecycle as seen by the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the identity provider's current session.
type Session struct {
	AccessToken string
}

// AuthEvent is a session change reported by the identity provider.
type AuthEvent int

const (
	SignedIn AuthEvent = iota + 1
	SignedOut
	TokenRefreshed
)

// SessionProvider supplies the access token and reports session changes.
// Session returns a nil session when nobody is signed in.
type SessionProvider interface {
	Session(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn func(AuthEvent, *Session)) (unsubscribe func())
}

// Sender identifies who published a broadcast.
type Sender struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Message is an envelope delivered by the gateway.
type Message struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Sender    Sender          `json:"sender"`
	Timestamp string          `json:"timestamp"`
}

// Handler receives inbound messages. It runs on the read goroutine.
type Handler func(Message)

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type broadcastPayload struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type listener struct {
	id     uint64
	prefix string
	fn     Handler
}

// Option configures a Manager.
type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.handshakeTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// Manager owns the outbound socket, the pending subscription set and the
// local listeners.
type Manager struct {
	url      string
	provider SessionProvider
	dialer   *websocket.Dialer
	logger   *zap.Logger

	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	connectMu sync.Mutex
	writeMu   sync.Mutex

	mu        sync.Mutex
	state     State
	ws        *websocket.Conn
	pending   map[string]struct{}
	listeners []listener
	nextID    uint64
	closed    bool
}

// New returns a disconnected manager for the gateway at rawURL.
func New(rawURL string, provider SessionProvider, opts ...Option) *Manager {
	m := &Manager{
		url:              rawURL,
		provider:         provider,
		dialer:           websocket.DefaultDialer,
		logger:           zap.NewNop(),
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		pending:          make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("realtime-client")
	return m
}

// State reports the socket state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the locally held subscriptions, sorted.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pending))
	for ch := range m.pending {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Connect opens a socket with the current session's token and replays the
// pending subscriptions. Without a session it does nothing. An already open
// socket is kept.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	session, err := m.provider.Session(ctx)
	if err != nil {
		return fmt.Errorf("client: session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.AccessToken) == "" {
		m.logger.Debug("no session, skipping connect")
		return nil
	}

	target, err := withToken(m.url, session.AccessToken)
	if err != nil {
		return err
	}

	m.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()
	ws, _, err := m.dialer.DialContext(dialCtx, target, nil)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("client: dial: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.state = StateDisconnected
		m.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	m.ws = ws
	m.state = StateOpen
	replay := make([]string, 0, len(m.pending))
	for ch := range m.pending {
		replay = append(replay, ch)
	}
	m.mu.Unlock()

	go m.readLoop(ws)

	sort.Strings(replay)
	for _, ch := range replay {
		if err := m.write(ws, outbound{Type: "subscribe", Payload: channelPayload{Channel: ch}}); err != nil {
			m.logger.Warn("replay failed", zap.String("channel", ch), zap.Error(err))
			m.detach(ws)
			return fmt.Errorf("client: replay: %w", err)
		}
	}
	m.logger.Info("connected", zap.Int("replayed", len(replay)))
	return nil
}

// Subscribe records the channel and sends it when a socket is open.
func (m *Manager) Subscribe(channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return errors.New("client: channel is required")
	}
	m.mu.Lock()
	if _, ok := m.pending[channel]; ok {
		m.mu.Unlock()
		return nil
	}
	m.pending[channel] = struct{}{}
	ws := m.openSocket()
	m.mu.Unlock()

	if ws == nil {
		return nil
	}
	return m.write(ws, outbound{Type: "subscribe", Payload: channelPayload{Channel: channel}})
}

// Unsubscribe forgets the channel and tells the gateway when a socket is open.
func (m *Manager) Unsubscribe(channel string) error {
	channel = strings.TrimSpace(channel)
	m.mu.Lock()
	delete(m.pending, channel)
	ws := m.openSocket()
	m.mu.Unlock()

	if ws == nil {
		return nil
	}
	return m.write(ws, outbound{Type: "unsubscribe", Payload: channelPayload{Channel: channel}})
}

// Broadcast publishes data on channel. Broadcasts are not queued.
func (m *Manager) Broadcast(channel, event string, data any) error {
	m.mu.Lock()
	ws := m.openSocket()
	m.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	payload := broadcastPayload{Channel: channel, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("client: encode data: %w", err)
		}
		payload.Data = raw
	}
	return m.write(ws, outbound{Type: "broadcast", Payload: payload})
}

// On registers fn for every inbound message whose channel starts with
// prefix. The returned func removes the registration.
func (m *Manager) On(prefix string, fn Handler) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, prefix: prefix, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// WatchAuth follows session changes: sign-out closes the socket, sign-in and
// token refresh reconnect with the new token.
func (m *Manager) WatchAuth() (stop func()) {
	return m.provider.OnAuthStateChange(func(event AuthEvent, _ *Session) {
		switch event {
		case SignedOut:
			m.disconnect()
		case SignedIn, TokenRefreshed:
			m.disconnect()
			if err := m.Connect(context.Background()); err != nil {
				m.logger.Warn("reconnect after auth change failed", zap.Error(err))
			}
		}
	})
}

// Close closes the socket and refuses further connects. Pending
// subscriptions and listeners are kept.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.disconnect()
	return nil
}

func (m *Manager) openSocket() *websocket.Conn {
	if m.state != StateOpen {
		return nil
	}
	return m.ws
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	ws := m.ws
	m.mu.Unlock()
	if ws == nil {
		return
	}

	m.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(m.writeTimeout))
	m.writeMu.Unlock()
	m.detach(ws)
}

// detach drops ws if it is still the current socket.
func (m *Manager) detach(ws *websocket.Conn) {
	m.mu.Lock()
	if m.ws == ws {
		m.ws = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	_ = ws.Close()
}

func (m *Manager) write(ws *websocket.Conn, msg outbound) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, body)
}

func (m *Manager) readLoop(ws *websocket.Conn) {
	defer m.detach(ws)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Debug("read ended", zap.Error(err))
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Channel == "" {
			m.logger.Debug("ignoring frame", zap.ByteString("frame", data))
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg Message) {
	m.mu.Lock()
	matched := make([]Handler, 0, len(m.listeners))
	for _, l := range m.listeners {
		if strings.HasPrefix(msg.Channel, l.prefix) {
			matched = append(matched, l.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range matched {
		fn(msg)
	}
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("client: parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
