package ratelimit

import "time"

// EndpointConfig is the limit for one route. A Path ending in "/" matches by prefix and
// all paths under it share the bucket.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // requests per Window; 0 means unlimited
	Window time.Duration
	Burst  int // defaults to Limit
}

func (e *EndpointConfig) key(path string) string {
	if e.Path == "" {
		return path
	}
	return e.Path
}

// Config holds rate limiting configuration
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	EndpointConfigs []EndpointConfig
}

// DefaultConfig allows 600 requests a minute per client, 30 of them triggers
func DefaultConfig() *Config {
	return NewConfig(600, 30, 5*time.Minute)
}

// NewConfig builds an enabled config from per-minute limits
func NewConfig(defaultPerMinute, triggersPerMinute int, cleanup time.Duration) *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    defaultPerMinute,
		DefaultWindow:   time.Minute,
		CleanupInterval: cleanup,
		EndpointConfigs: []EndpointConfig{
			// Each accepted trigger can start an oracle-backed run
			{Path: "/triggers", Method: "POST", Limit: triggersPerMinute, Window: time.Minute, Burst: max(1, triggersPerMinute/6)},
		},
	}
}
