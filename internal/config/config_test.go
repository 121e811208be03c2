package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := load("", map[string]string{"JWT_SECRET": "s3cret"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != defaultPort || cfg.Gateway.Path != "/ws" || cfg.Gateway.PingInterval != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Broker.Driver != DriverMemory || cfg.Broker.ExchangeType != "topic" || cfg.Broker.ReconnectDelay != 5*time.Second {
		t.Fatalf("unexpected broker defaults: %+v", cfg.Broker)
	}
	if len(cfg.Auth.PrivilegedRoles) != 2 || !cfg.IsDev() || cfg.Gateway.ErrorFrames {
		t.Fatalf("unexpected auth/env defaults: %+v", cfg)
	}
}

func TestFileThenEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: 8080
env: production
allowed_origins: ["*.example.com", " "]
gateway:
  path: /realtime
  ping_interval: 15s
  max_connections: 100
  error_frames: true
broker:
  driver: nats
  url: nats://127.0.0.1:4222
  exchange: events
auth:
  jwt_secret: from-file
  issuer: https://auth.example.com
  privileged_roles: [owner]
log:
  level: debug
  dir: /var/log/realtime
`)
	cfg, err := load(path, map[string]string{
		"PORT":                   "9090",
		"BROKER_RECONNECT_DELAY": "250ms",
		"JWT_SECRET":             "from-env",
		"GATEWAY_ERROR_FRAMES":   "false",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.Env != "production" || cfg.IsDev() {
		t.Fatalf("unexpected top level: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.Gateway.Path != "/realtime" || cfg.Gateway.PingInterval != 15*time.Second || cfg.Gateway.MaxConnections != 100 || cfg.Gateway.ErrorFrames {
		t.Fatalf("unexpected gateway: %+v", cfg.Gateway)
	}
	if cfg.Broker.Driver != DriverNATS || cfg.Broker.Exchange != "events" || cfg.Broker.ReconnectDelay != 250*time.Millisecond {
		t.Fatalf("unexpected broker: %+v", cfg.Broker)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.Auth.Issuer != "https://auth.example.com" || cfg.Auth.PrivilegedRoles[0] != "owner" {
		t.Fatalf("unexpected auth: %+v", cfg.Auth)
	}
	if cfg.Log.Level != "debug" || cfg.LogDir() != "/var/log/realtime" {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, "port: 80\nbrokr:\n  driver: nats\n")
	if _, err := load(path, map[string]string{"JWT_SECRET": "x"}); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestExplicitMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yml"), map[string]string{"JWT_SECRET": "x"})
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestEnvProblemsAreCollected(t *testing.T) {
	_, err := load("", map[string]string{
		"JWT_SECRET":              "x",
		"PORT":                    "eighty",
		"GATEWAY_PING_INTERVAL":   "-1s",
		"GATEWAY_MAX_CONNECTIONS": "-3",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"PORT", "GATEWAY_PING_INTERVAL", "GATEWAY_MAX_CONNECTIONS"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestEnvListsAndBlankValues(t *testing.T) {
	cfg, err := load("", map[string]string{
		"JWT_SECRET":       "x",
		"ENV":              "Production",
		"ALLOWED_ORIGINS":  "a.example.com, *.b.example.com,",
		"PRIVILEGED_ROLES": " owner , mod",
		"LOG_DIR":          "   ",
		"GATEWAY_PATH":     "",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "a.example.com|*.b.example.com" {
		t.Fatalf("origins = %q", cfg.AllowedOrigins)
	}
	if strings.Join(cfg.Auth.PrivilegedRoles, "|") != "owner|mod" {
		t.Fatalf("roles = %q", cfg.Auth.PrivilegedRoles)
	}
	if cfg.Env != "production" || cfg.Log.Dir != "" || cfg.Gateway.Path != defaultGatewayPath {
		t.Fatalf("blank values should be ignored: %+v", cfg)
	}
}

func TestEnvParseErrorNamesVariable(t *testing.T) {
	_, err := load("", map[string]string{
		"JWT_SECRET":             "x",
		"GATEWAY_ERROR_FRAMES":   "sometimes",
		"BROKER_RECONNECT_DELAY": "later",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"GATEWAY_ERROR_FRAMES", "BROKER_RECONNECT_DELAY"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":  {},
		"unknown driver":  {"JWT_SECRET": "x", "BROKER_DRIVER": "kafka"},
		"nats needs url":  {"JWT_SECRET": "x", "BROKER_DRIVER": "nats"},
		"dotted exchange": {"JWT_SECRET": "x", "BROKER_EXCHANGE": "a.b"},
		"bad port":        {"JWT_SECRET": "x", "PORT": "70000"},
		"bad path":        {"JWT_SECRET": "x", "GATEWAY_PATH": "ws"},
		"bad log level":   {"JWT_SECRET": "x", "LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load("", env); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	path := writeConfig(t, "broker:\n  exchange_type: fanout\nauth:\n  jwt_secret: x\n")
	if _, err := load(path, nil); err == nil || !strings.Contains(err.Error(), "exchange_type") {
		t.Fatalf("expected exchange_type error, got %v", err)
	}
}

func TestBadDurationInFile(t *testing.T) {
	path := writeConfig(t, "gateway:\n  ping_interval: soon\nauth:\n  jwt_secret: x\n")
	_, err := load(path, nil)
	if err == nil || !strings.Contains(err.Error(), "gateway.ping_interval") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
