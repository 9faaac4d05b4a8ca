package ratelimit

import (
	"strings"
	"time"

	"github.com/jonathan/golden-record/internal/config"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// FromConfig builds the limiter configuration from the workbench rate limit section.
func FromConfig(cfg config.RateLimitConfig) *Config {
	if !cfg.Enabled {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    cfg.RequestsPerMinute,
		DefaultWindow:   time.Minute,
		DefaultBurst:    cfg.Burst,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       parseIPList(cfg.Whitelist),
		Blacklist:       parseIPList(cfg.Blacklist),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Tier 1: operations that trigger remote model calls
		{Path: "/drain/start", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},
		{Path: "/records/", Method: "POST", Limit: 30, Window: time.Minute, Burst: 5},

		// Tier 2: queue and history writes
		{Path: "/queue", Method: "POST", Limit: 120, Window: time.Minute, Burst: 20},
		{Path: "/queue/samples", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/queue", Method: "DELETE", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/history", Method: "DELETE", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/mode", Method: "PUT", Limit: 60, Window: time.Minute, Burst: 10},

		// Tier 3: reads use the default limit
		// Tier 4: health, metrics and the event stream are unlimited (see matcher)
	}
}

// parseIPList turns a list of IP addresses into a lookup set.
func parseIPList(list []string) map[string]bool {
	result := make(map[string]bool, len(list))
	for _, ip := range list {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			result[ip] = true
		}
	}
	return result
}
