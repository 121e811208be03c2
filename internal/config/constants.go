package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort               = 2333
	defaultEnv                = "development"
	defaultGatewayPath        = "/ws"
	defaultPingInterval       = 30 * time.Second
	defaultSendBuffer         = 256
	defaultReadLimit          = 64 * 1024
	defaultWriteTimeout       = 10 * time.Second
	defaultBrokerDriver       = DriverMemory
	defaultBrokerExchange     = "realtime"
	defaultReconnectDelay     = 5 * time.Second
	defaultBrokerPingInterval = 10 * time.Second
	defaultJWTLeeway          = 30 * time.Second
	defaultLogLevel           = "info"

	// ExchangeType is fixed; the gateway only speaks topic routing.
	ExchangeType = "topic"
)

const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverRedis  = "redis"
)

var defaultPrivilegedRoles = []string{"admin", "super-admin"}
