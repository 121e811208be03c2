// Package broker owns the gateway's link to a topic exchange.
//
// A Transport keeps one consuming connection bound to every routing key and
// lazily opens one publishing channel. Concrete brokers plug in as a Driver.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ExchangeType is the only exchange kind the gateway binds to.
	ExchangeType = "topic"
	// BindAll is the binding key that matches every routing key.
	BindAll = "#"
	// DefaultReconnectDelay is the fixed wait between connect attempts.
	DefaultReconnectDelay = 5 * time.Second
)

var (
	ErrNotReady = errors.New("broker transport not ready")
	ErrClosed   = errors.New("broker transport closed")

	ErrInvalidRoutingKey = errors.New("invalid routing key")
)

// Delivery is one message received from the exchange.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Handler receives deliveries. It must not block for long.
type Handler func(Delivery)

// Conn is the consuming connection.
type Conn interface {
	// Consume asserts the exchange and binds an exclusive, auto-delete
	// subscription to every routing key.
	Consume(ctx context.Context, h Handler) error
	// Done yields once when the connection is lost.
	Done() <-chan error
	Close() error
}

// Publisher is the publishing channel.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Close() error
}

// Driver connects to a concrete broker.
type Driver interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
	OpenPublisher(ctx context.Context) (Publisher, error)
}

// CheckRoutingKey rejects keys that a broker would read as wildcards,
// separators or protocol framing.
func CheckRoutingKey(key string) error {
	if key == "" {
		return ErrInvalidRoutingKey
	}
	for i := 0; i < len(key); i++ {
		switch b := key[i]; {
		case b <= ' ', b == 0x7f, b == '*', b == '>', b == '#', b == ':':
			return fmt.Errorf("%w: byte %q at %d", ErrInvalidRoutingKey, b, i)
		}
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: empty token", ErrInvalidRoutingKey)
	}
	return nil
}

// Match reports whether a topic routing key matches a binding pattern.
// "*" matches exactly one dot-separated word and "#" matches zero or more.
func Match(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == "#" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != "*" && head != key[0] {
			return false
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
