package app

import (
	"net/url"
	"strings"

	"github.com/mx-space/realtime/internal/config"
)

// originMatcher allows every origin in development or when no patterns are
// configured; otherwise the origin host must match one of them.
func originMatcher(cfg *config.AppConfig) func(origin string) bool {
	if len(cfg.AllowedOrigins) == 0 || cfg.IsDev() {
		return func(string) bool { return true }
	}
	patterns := cfg.AllowedOrigins
	return func(origin string) bool {
		host := extractOriginHost(origin)
		for _, pattern := range patterns {
			if matchOriginPattern(pattern, host) {
				return true
			}
		}
		return false
	}
}

// extractOriginHost returns the "host[:port]" portion of an origin URL.
func extractOriginHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}

// matchOriginPattern reports whether host matches the given wildcard pattern.
func matchOriginPattern(pattern, host string) bool {
	if pattern == "*" || pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix)
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(host, prefix)
	}
	return false
}
