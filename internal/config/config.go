package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at configPath, applies environment overrides and
// validates the result. A missing default config file is not an error.
func Load(configPath string) (*AppConfig, error) {
	return load(configPath, processEnviron())
}

func load(configPath string, environ map[string]string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg := defaultAppConfig()

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw, err := decodeRaw(content)
		if err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
		if err := applyRawAppConfig(&cfg, raw); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := applyEnv(&cfg, environ); err != nil {
		return nil, err
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeRaw(content []byte) (rawAppConfig, error) {
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) == 0 {
		return raw, nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Gateway: GatewayConfig{
			Path:         defaultGatewayPath,
			PingInterval: defaultPingInterval,
			SendBuffer:   defaultSendBuffer,
			ReadLimit:    defaultReadLimit,
			WriteTimeout: defaultWriteTimeout,
		},
		Broker: BrokerConfig{
			Driver:         defaultBrokerDriver,
			Exchange:       defaultBrokerExchange,
			ExchangeType:   ExchangeType,
			ReconnectDelay: defaultReconnectDelay,
			PingInterval:   defaultBrokerPingInterval,
		},
		Auth: AuthConfig{
			Leeway:          defaultJWTLeeway,
			PrivilegedRoles: append([]string(nil), defaultPrivilegedRoles...),
		},
		Log: LogConfig{Level: defaultLogLevel},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	var problems []string
	duration := func(field, value string, dst *time.Duration) {
		if strings.TrimSpace(value) == "" {
			return
		}
		d, err := parsePositiveDuration(value)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}

	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(raw.NodeEnv); v != "" {
		cfg.Env = v
	}
	if len(raw.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = raw.AllowedOrigins
	}
	if len(raw.CORSAllowedOrigins) > 0 {
		cfg.AllowedOrigins = raw.CORSAllowedOrigins
	}

	if v := strings.TrimSpace(raw.Gateway.Path); v != "" {
		cfg.Gateway.Path = v
	}
	duration("gateway.ping_interval", raw.Gateway.PingInterval, &cfg.Gateway.PingInterval)
	duration("gateway.write_timeout", raw.Gateway.WriteTimeout, &cfg.Gateway.WriteTimeout)
	if raw.Gateway.SendBuffer != 0 {
		cfg.Gateway.SendBuffer = raw.Gateway.SendBuffer
	}
	if raw.Gateway.ReadLimit != 0 {
		cfg.Gateway.ReadLimit = raw.Gateway.ReadLimit
	}
	if raw.Gateway.MaxConnections != nil {
		cfg.Gateway.MaxConnections = *raw.Gateway.MaxConnections
	}
	if raw.Gateway.ErrorFrames != nil {
		cfg.Gateway.ErrorFrames = *raw.Gateway.ErrorFrames
	}

	if v := strings.TrimSpace(raw.Broker.Driver); v != "" {
		cfg.Broker.Driver = v
	}
	if v := strings.TrimSpace(raw.Broker.URL); v != "" {
		cfg.Broker.URL = v
	}
	if v := strings.TrimSpace(raw.Broker.Exchange); v != "" {
		cfg.Broker.Exchange = v
	}
	if v := strings.TrimSpace(raw.Broker.ExchangeType); v != "" {
		cfg.Broker.ExchangeType = v
	}
	duration("broker.reconnect_delay", raw.Broker.ReconnectDelay, &cfg.Broker.ReconnectDelay)
	duration("broker.ping_interval", raw.Broker.PingInterval, &cfg.Broker.PingInterval)

	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(raw.Auth.JWTSecret); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(raw.Auth.Issuer); v != "" {
		cfg.Auth.Issuer = v
	}
	duration("auth.leeway", raw.Auth.Leeway, &cfg.Auth.Leeway)
	if len(raw.Auth.PrivilegedRoles) > 0 {
		cfg.Auth.PrivilegedRoles = raw.Auth.PrivilegedRoles
	}

	if v := strings.TrimSpace(raw.Log.Level); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.Log.Dir = v
	}
	if v := strings.TrimSpace(raw.Log.Dir); v != "" {
		cfg.Log.Dir = v
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the normalized configuration.
func (c *AppConfig) Validate() error {
	var problems []string
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d, expected 1-65535", c.Port))
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		problems = append(problems, fmt.Sprintf("gateway.path %q must start with /", c.Gateway.Path))
	}
	if c.Gateway.SendBuffer < 1 {
		problems = append(problems, fmt.Sprintf("gateway.send_buffer must be positive, got %d", c.Gateway.SendBuffer))
	}
	if c.Gateway.ReadLimit < 1 {
		problems = append(problems, fmt.Sprintf("gateway.read_limit must be positive, got %d", c.Gateway.ReadLimit))
	}
	if c.Gateway.MaxConnections < 0 {
		problems = append(problems, fmt.Sprintf("gateway.max_connections must be >= 0, got %d", c.Gateway.MaxConnections))
	}
	switch c.Broker.Driver {
	case DriverMemory:
	case DriverNATS, DriverRedis:
		if c.Broker.URL == "" {
			problems = append(problems, fmt.Sprintf("broker.url is required for the %s driver", c.Broker.Driver))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown broker.driver %q, expected memory, nats or redis", c.Broker.Driver))
	}
	if c.Broker.ExchangeType != ExchangeType {
		problems = append(problems, fmt.Sprintf("broker.exchange_type must be %q, got %q", ExchangeType, c.Broker.ExchangeType))
	}
	if c.Broker.Exchange == "" || strings.ContainsAny(c.Broker.Exchange, " .*>:#") {
		problems = append(problems, fmt.Sprintf("broker.exchange %q must be a plain non-empty name", c.Broker.Exchange))
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret (JWT_SECRET) is required")
	}
	if _, ok := logLevels[c.Log.Level]; !ok {
		problems = append(problems, fmt.Sprintf("unknown log.level %q", c.Log.Level))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

var logLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

// Addr returns the listen address.
func (c *AppConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func parsePositiveDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", d)
	}
	return d, nil
}
