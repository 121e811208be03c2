package config

import "strings"

func normalize(cfg *AppConfig) {
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.AllowedOrigins = normalizeList(cfg.AllowedOrigins)
	cfg.Gateway.Path = strings.TrimSpace(cfg.Gateway.Path)
	cfg.Broker.Driver = strings.ToLower(strings.TrimSpace(cfg.Broker.Driver))
	cfg.Broker.URL = strings.TrimSpace(cfg.Broker.URL)
	cfg.Broker.Exchange = strings.TrimSpace(cfg.Broker.Exchange)
	cfg.Broker.ExchangeType = strings.ToLower(strings.TrimSpace(cfg.Broker.ExchangeType))
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.PrivilegedRoles = normalizeList(cfg.Auth.PrivilegedRoles)
	if len(cfg.Auth.PrivilegedRoles) == 0 {
		cfg.Auth.PrivilegedRoles = append([]string(nil), defaultPrivilegedRoles...)
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	cfg.Log.Dir = strings.TrimSpace(cfg.Log.Dir)
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(env string) string {
	trimmed := strings.ToLower(strings.TrimSpace(env))
	if trimmed == "" {
		return defaultEnv
	}
	return trimmed
}
