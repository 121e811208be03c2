package config

import "time"

// AppConfig holds runtime startup configuration loaded from YAML and the
// environment.
type AppConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
	Gateway        GatewayConfig
	Broker         BrokerConfig
	Auth           AuthConfig
	Log            LogConfig
}

type GatewayConfig struct {
	Path           string
	PingInterval   time.Duration
	SendBuffer     int
	ReadLimit      int64
	WriteTimeout   time.Duration
	MaxConnections int
	ErrorFrames    bool
}

type BrokerConfig struct {
	Driver         string
	URL            string
	Exchange       string
	ExchangeType   string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	Leeway          time.Duration
	PrivilegedRoles []string
}

type LogConfig struct {
	Level string
	Dir   string
}

type rawAppConfig struct {
	Port               int              `yaml:"port"`
	Env                string           `yaml:"env"`
	NodeEnv            string           `yaml:"node_env"`
	AllowedOrigins     []string         `yaml:"allowed_origins"`
	CORSAllowedOrigins []string         `yaml:"cors_allowed_origins"`
	JWTSecret          string           `yaml:"jwt_secret"`
	LogDir             string           `yaml:"log_dir"`
	Gateway            rawGatewayConfig `yaml:"gateway"`
	Broker             rawBrokerConfig  `yaml:"broker"`
	Auth               rawAuthConfig    `yaml:"auth"`
	Log                rawLogConfig     `yaml:"log"`
}

type rawGatewayConfig struct {
	Path           string `yaml:"path"`
	PingInterval   string `yaml:"ping_interval"`
	SendBuffer     int    `yaml:"send_buffer"`
	ReadLimit      int64  `yaml:"read_limit"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxConnections *int   `yaml:"max_connections"`
	ErrorFrames    *bool  `yaml:"error_frames"`
}

type rawBrokerConfig struct {
	Driver         string `yaml:"driver"`
	URL            string `yaml:"url"`
	Exchange       string `yaml:"exchange"`
	ExchangeType   string `yaml:"exchange_type"`
	ReconnectDelay string `yaml:"reconnect_delay"`
	PingInterval   string `yaml:"ping_interval"`
}

type rawAuthConfig struct {
	JWTSecret       string   `yaml:"jwt_secret"`
	Issuer          string   `yaml:"issuer"`
	Leeway          string   `yaml:"leeway"`
	PrivilegedRoles []string `yaml:"privileged_roles"`
}

type rawLogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}
