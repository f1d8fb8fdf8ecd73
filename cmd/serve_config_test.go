package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-dispatch/internal/config"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

func defaultServeConfig() ServeConfig {
	return ServeConfig{
		Transport:        transportStdio,
		HTTPAddr:         ":8080",
		HTTPEndpoint:     "/mcp",
		CapabilitiesFile: "capabilities.yaml",
		WatchConfig:      true,
		MaxRetries:       -1,
		Metrics:          MetricsServeConfig{Addr: ":9090", Enabled: true},
	}
}

func TestLoadEnvIfEmpty(t *testing.T) {
	t.Setenv("TEST_DISPATCH_VALUE", "from-env")

	empty := ""
	loadEnvIfEmpty(&empty, "TEST_DISPATCH_VALUE")
	assert.Equal(t, "from-env", empty)

	set := "from-flag"
	loadEnvIfEmpty(&set, "TEST_DISPATCH_VALUE")
	assert.Equal(t, "from-flag", set)
}

func TestLoadServeEnv(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "/etc/dispatch/capabilities.yaml")
	t.Setenv("DISPATCH_TRANSPORT", "streamable-http")
	t.Setenv("DISPATCH_HTTP_ADDR", ":8181")
	t.Setenv("DISPATCH_WATCH_CONFIG", "false")
	t.Setenv("DISPATCH_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("ENABLE_HSTS", "true")
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("SESSION_HISTORY_LIMIT", "20")
	t.Setenv("MAX_SESSIONS", "50")
	t.Setenv("ROUTER_MAX_RETRIES", "0")
	t.Setenv("ROUTER_DEFAULT_TIMEOUT", "45s")
	t.Setenv("MAX_RESPONSE_BYTES", "65536")
	t.Setenv("METRICS_SERVER_ENABLED", "false")
	t.Setenv("METRICS_ADDR", ":9191")

	cfg := defaultServeConfig()
	cfg.CapabilitiesFile = ""
	loadServeEnv(newServeCmd(), &cfg)

	assert.Equal(t, "/etc/dispatch/capabilities.yaml", cfg.CapabilitiesFile)
	assert.Equal(t, transportStreamableHTTP, cfg.Transport)
	assert.Equal(t, ":8181", cfg.HTTPAddr)
	assert.False(t, cfg.WatchConfig)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Security.AllowedOrigins)
	assert.True(t, cfg.Security.EnableHSTS)
	assert.Equal(t, 5*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, 20, cfg.SessionHistoryLimit)
	assert.Equal(t, 50, cfg.MaxSessions)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 65536, cfg.MaxResponseBytes)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9191", cfg.Metrics.Addr)
}

func TestLoadServeEnvFlagsTakePrecedence(t *testing.T) {
	t.Setenv("DISPATCH_TRANSPORT", "streamable-http")
	t.Setenv("ROUTER_MAX_RETRIES", "5")

	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Set("transport", "stdio"))
	require.NoError(t, cmd.Flags().Set("max-retries", "1"))

	cfg := defaultServeConfig()
	cfg.MaxRetries = 1
	loadServeEnv(cmd, &cfg)

	assert.Equal(t, transportStdio, cfg.Transport)
	assert.Equal(t, 1, cfg.MaxRetries)
}

func TestLoadServeEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("SESSION_IDLE_TIMEOUT", "forever")
	t.Setenv("MAX_SESSIONS", "lots")

	cfg := defaultServeConfig()
	loadServeEnv(newServeCmd(), &cfg)

	assert.Zero(t, cfg.SessionIdleTimeout)
	assert.Zero(t, cfg.MaxSessions)
}

func TestServeConfigValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*ServeConfig)
		errorContains string
	}{
		{
			name:   "valid stdio",
			mutate: func(*ServeConfig) {},
		},
		{
			name:   "valid streamable-http",
			mutate: func(c *ServeConfig) { c.Transport = transportStreamableHTTP },
		},
		{
			name:          "sse is no longer supported",
			mutate:        func(c *ServeConfig) { c.Transport = "sse" },
			errorContains: "unsupported transport type",
		},
		{
			name:          "empty transport",
			mutate:        func(c *ServeConfig) { c.Transport = "" },
			errorContains: "unsupported transport type",
		},
		{
			name:          "missing capabilities file",
			mutate:        func(c *ServeConfig) { c.CapabilitiesFile = "" },
			errorContains: "capabilities file is required",
		},
		{
			name: "relative endpoint",
			mutate: func(c *ServeConfig) {
				c.Transport = transportStreamableHTTP
				c.HTTPEndpoint = "mcp"
			},
			errorContains: "must start with '/'",
		},
		{
			name: "metrics on the API listener address",
			mutate: func(c *ServeConfig) {
				c.Transport = transportStreamableHTTP
				c.Metrics.Addr = c.HTTPAddr
			},
			errorContains: "must differ from the HTTP address",
		},
		{
			name: "metrics address ignored when disabled",
			mutate: func(c *ServeConfig) {
				c.Transport = transportStreamableHTTP
				c.Metrics.Addr = c.HTTPAddr
				c.Metrics.Enabled = false
			},
		},
		{
			name:          "negative history limit",
			mutate:        func(c *ServeConfig) { c.SessionHistoryLimit = -1 },
			errorContains: "must not be negative",
		},
		{
			name:          "max retries below -1",
			mutate:        func(c *ServeConfig) { c.MaxRetries = -2 },
			errorContains: "max retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultServeConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestServeConfigLayering(t *testing.T) {
	retries := 4
	file := &config.File{
		Router: config.RouterConfig{
			MaxRetries:     &retries,
			BaseDelay:      50 * time.Millisecond,
			DefaultTimeout: 20 * time.Second,
		},
		Sessions: config.SessionConfig{
			IdleTimeout:  10 * time.Minute,
			HistoryLimit: 5,
		},
	}

	t.Run("file over defaults", func(t *testing.T) {
		cfg := defaultServeConfig()

		sessions := cfg.sessionConfig(file)
		assert.Equal(t, 10*time.Minute, sessions.IdleTimeout)
		assert.Equal(t, 5, sessions.HistoryLimit)
		assert.Equal(t, session.DefaultConfig().MaxSessions, sessions.MaxSessions)

		policy := cfg.retryPolicy(file)
		assert.Equal(t, 4, policy.MaxRetries)
		assert.Equal(t, 50*time.Millisecond, policy.BaseDelay)
		assert.Equal(t, router.DefaultRetryPolicy().MaxDelay, policy.MaxDelay)

		assert.Equal(t, 20*time.Second, cfg.defaultTimeout(file))
	})

	t.Run("command line over file", func(t *testing.T) {
		cfg := defaultServeConfig()
		cfg.SessionHistoryLimit = 7
		cfg.MaxSessions = 3
		cfg.MaxRetries = 0
		cfg.DefaultTimeout = time.Minute

		sessions := cfg.sessionConfig(file)
		assert.Equal(t, 7, sessions.HistoryLimit)
		assert.Equal(t, 3, sessions.MaxSessions)
		assert.Equal(t, 10*time.Minute, sessions.IdleTimeout)

		assert.Equal(t, 0, cfg.retryPolicy(file).MaxRetries)
		assert.Equal(t, time.Minute, cfg.defaultTimeout(file))
	})
}

func TestServeConfigServerConfig(t *testing.T) {
	cfg := defaultServeConfig()
	sc := cfg.serverConfig()
	assert.Equal(t, "capabilities.yaml", sc.CapabilitiesFile)
	assert.Equal(t, int64(1<<20), sc.MaxRequestBytes)
	assert.Equal(t, 512*1024, sc.MaxResponseBytes)

	cfg.MaxRequestBytes = 4096
	cfg.MaxResponseBytes = 8192
	sc = cfg.serverConfig()
	assert.Equal(t, int64(4096), sc.MaxRequestBytes)
	assert.Equal(t, 8192, sc.MaxResponseBytes)
}
