package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists every variable that may override the file config.
// Nil pointers and nil slices mean "not set".
type envOverrides struct {
	Port           *int     `env:"PORT"`
	Env            *string  `env:"ENV"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	GatewayPath           *string        `env:"GATEWAY_PATH"`
	GatewayPingInterval   *time.Duration `env:"GATEWAY_PING_INTERVAL"`
	GatewayMaxConnections *int           `env:"GATEWAY_MAX_CONNECTIONS"`
	GatewayErrorFrames    *bool          `env:"GATEWAY_ERROR_FRAMES"`

	BrokerDriver         *string        `env:"BROKER_DRIVER"`
	BrokerURL            *string        `env:"BROKER_URL"`
	BrokerExchange       *string        `env:"BROKER_EXCHANGE"`
	BrokerReconnectDelay *time.Duration `env:"BROKER_RECONNECT_DELAY"`

	JWTSecret       *string  `env:"JWT_SECRET"`
	JWTIssuer       *string  `env:"JWT_ISSUER"`
	PrivilegedRoles []string `env:"PRIVILEGED_ROLES" envSeparator:","`

	LogLevel *string `env:"LOG_LEVEL"`
	LogDir   *string `env:"LOG_DIR"`
}

// processEnviron returns the process environment as a map.
func processEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// applyEnv layers environment variables over the file config. Blank values
// are ignored. Every bad value is reported, not only the first.
func applyEnv(cfg *AppConfig, environ map[string]string) error {
	vars := make(map[string]string, len(environ))
	for k, v := range environ {
		if v = strings.TrimSpace(v); v != "" {
			vars[k] = v
		}
	}

	var o envOverrides
	var problems []string
	if err := env.ParseWithOptions(&o, env.Options{Environment: vars}); err != nil {
		problems = append(problems, describeEnvError(err)...)
	}

	setString(&cfg.Env, o.Env)
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.AllowedOrigins != nil {
		cfg.AllowedOrigins = o.AllowedOrigins
	}

	setString(&cfg.Gateway.Path, o.GatewayPath)
	if o.GatewayPingInterval != nil {
		if *o.GatewayPingInterval > 0 {
			cfg.Gateway.PingInterval = *o.GatewayPingInterval
		} else {
			problems = append(problems, fmt.Sprintf("GATEWAY_PING_INTERVAL must be a positive duration, got %s", *o.GatewayPingInterval))
		}
	}
	if o.GatewayMaxConnections != nil {
		if *o.GatewayMaxConnections >= 0 {
			cfg.Gateway.MaxConnections = *o.GatewayMaxConnections
		} else {
			problems = append(problems, fmt.Sprintf("GATEWAY_MAX_CONNECTIONS must be a non-negative integer, got %d", *o.GatewayMaxConnections))
		}
	}
	if o.GatewayErrorFrames != nil {
		cfg.Gateway.ErrorFrames = *o.GatewayErrorFrames
	}

	setString(&cfg.Broker.Driver, o.BrokerDriver)
	setString(&cfg.Broker.URL, o.BrokerURL)
	setString(&cfg.Broker.Exchange, o.BrokerExchange)
	if o.BrokerReconnectDelay != nil {
		if *o.BrokerReconnectDelay > 0 {
			cfg.Broker.ReconnectDelay = *o.BrokerReconnectDelay
		} else {
			problems = append(problems, fmt.Sprintf("BROKER_RECONNECT_DELAY must be a positive duration, got %s", *o.BrokerReconnectDelay))
		}
	}

	setString(&cfg.Auth.JWTSecret, o.JWTSecret)
	setString(&cfg.Auth.Issuer, o.JWTIssuer)
	if o.PrivilegedRoles != nil {
		cfg.Auth.PrivilegedRoles = o.PrivilegedRoles
	}

	setString(&cfg.Log.Level, o.LogLevel)
	setString(&cfg.Log.Dir, o.LogDir)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// describeEnvError names the variable behind each parse failure.
func describeEnvError(err error) []string {
	var agg env.AggregateError
	if !errors.As(err, &agg) {
		return []string{err.Error()}
	}
	fields := reflect.TypeOf(envOverrides{})
	out := make([]string, 0, len(agg.Errors))
	for _, e := range agg.Errors {
		var pe env.ParseError
		if errors.As(e, &pe) {
			if f, ok := fields.FieldByName(pe.Name); ok {
				out = append(out, fmt.Sprintf("%s must be a valid %s: %v", f.Tag.Get("env"), pe.Type, pe.Err))
				continue
			}
		}
		out = append(out, e.Error())
	}
	return out
}
