package gateway

import (
	"context"
	"time"

	"github.com/mx-space/realtime/internal/pkg/jwt"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultSendBuffer   = 256
	DefaultReadLimit    = 64 * 1024
	DefaultWriteTimeout = 10 * time.Second

	msgTypeSubscribe   = "subscribe"
	msgTypeUnsubscribe = "unsubscribe"
	msgTypeBroadcast   = "broadcast"
	msgTypeError       = "error"
)

// Verifier turns an upgrade token into an identity.
type Verifier interface {
	Verify(token string) (jwt.Identity, error)
}

// Broker is the publish side of the broker transport.
type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	IsReady() bool
}

// Options tunes the hub. Zero values fall back to the defaults above.
type Options struct {
	PingInterval   time.Duration
	SendBuffer     int
	ReadLimit      int64
	WriteTimeout   time.Duration
	MaxConnections int
	ErrorFrames    bool
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// Stats is a point-in-time snapshot for the stats endpoint.
type Stats struct {
	Connections   int  `json:"connections"`
	Channels      int  `json:"channels"`
	Subscriptions int  `json:"subscriptions"`
	BrokerReady   bool `json:"broker_ready"`
}
