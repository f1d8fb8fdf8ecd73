package config

import (
	"time"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

// File is the parsed capabilities file.
type File struct {
	Router       RouterConfig       `yaml:"router"`
	Sessions     SessionConfig      `yaml:"sessions"`
	Capabilities []CapabilityConfig `yaml:"capabilities"`
}

// RouterConfig overrides the router's retry policy and default budget. Zero
// values keep the defaults.
type RouterConfig struct {
	// MaxRetries is a pointer so that an explicit 0 disables retries.
	MaxRetries     *int          `yaml:"max_retries,omitempty"`
	BaseDelay      time.Duration `yaml:"base_delay,omitempty"`
	MaxDelay       time.Duration `yaml:"max_delay,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         float64       `yaml:"jitter,omitempty"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`
}

// SessionConfig overrides the session store configuration. Zero values keep
// the defaults.
type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout,omitempty"`
	HistoryLimit    int           `yaml:"history_limit,omitempty"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
	MaxSessions     int           `yaml:"max_sessions,omitempty"`
}

// CapabilityConfig declares one capability instance.
type CapabilityConfig struct {
	Name   string                 `yaml:"name"`
	Kind   string                 `yaml:"kind"`
	Config dispatch.AdapterConfig `yaml:"config"`
}

// RetryPolicy returns base with the configured overrides applied.
func (c RouterConfig) RetryPolicy(base router.RetryPolicy) router.RetryPolicy {
	if c.MaxRetries != nil {
		base.MaxRetries = *c.MaxRetries
	}
	if c.BaseDelay > 0 {
		base.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		base.MaxDelay = c.MaxDelay
	}
	if c.Multiplier > 0 {
		base.Multiplier = c.Multiplier
	}
	if c.Jitter > 0 {
		base.Jitter = c.Jitter
	}
	return base
}

// Store returns base with the configured overrides applied.
func (c SessionConfig) Store(base session.Config) session.Config {
	if c.IdleTimeout > 0 {
		base.IdleTimeout = c.IdleTimeout
	}
	if c.HistoryLimit > 0 {
		base.HistoryLimit = c.HistoryLimit
	}
	if c.CleanupInterval != 0 {
		base.CleanupInterval = c.CleanupInterval
	}
	if c.MaxSessions > 0 {
		base.MaxSessions = c.MaxSessions
	}
	return base
}

func (c CapabilityConfig) equal(other CapabilityConfig) bool {
	return c.Name == other.Name && c.Kind == other.Kind && c.Config.Equal(other.Config)
}
