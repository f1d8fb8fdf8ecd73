package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmdProperties(t *testing.T) {
	cmd := newServeCmd()

	assert.Equal(t, "serve", cmd.Use)
	assert.Equal(t, "Start the MCP dispatch server", cmd.Short)
	assert.Contains(t, cmd.Long, "Model Context Protocol")
	assert.Contains(t, cmd.Long, "stdio")
	assert.Contains(t, cmd.Long, "streamable-http")
	assert.NotContains(t, cmd.Long, "sse")
}

func TestServeCmdFlagDefaults(t *testing.T) {
	cmd := newServeCmd()

	tests := []struct {
		flagName string
		expected string
	}{
		{"config", ""},
		{"watch-config", "true"},
		{"debug", "false"},
		{"transport", "stdio"},
		{"http-addr", ":8080"},
		{"http-endpoint", "/mcp"},
		{"allowed-origins", "[]"},
		{"enable-hsts", "false"},
		{"max-request-bytes", "0"},
		{"max-response-bytes", "0"},
		{"session-idle-timeout", "0s"},
		{"session-history-limit", "0"},
		{"max-sessions", "0"},
		{"max-retries", "-1"},
		{"default-timeout", "0s"},
		{"metrics-server", "true"},
		{"metrics-addr", ":9090"},
	}

	for _, tt := range tests {
		t.Run(tt.flagName, func(t *testing.T) {
			flag := cmd.Flags().Lookup(tt.flagName)
			require.NotNil(t, flag, "flag %s should exist", tt.flagName)
			assert.Equal(t, tt.expected, flag.DefValue)
		})
	}
}

func TestServeCmdFlagUsage(t *testing.T) {
	cmd := newServeCmd()

	usage := cmd.UsageString()
	assert.Contains(t, usage, "--transport")
	assert.Contains(t, usage, "stdio or streamable-http")
	assert.Contains(t, usage, "DISPATCH_CONFIG")
}

func TestServeCmdRejectsInvalidConfig(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "")
	t.Setenv("DISPATCH_TRANSPORT", "")

	cmd := newServeCmd()
	cmd.SetArgs([]string{"--transport", "sse"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport type")
	assert.Contains(t, err.Error(), "capabilities file is required")
}

func TestParseDurationEnv(t *testing.T) {
	d, ok := parseDurationEnv("90s", "X")
	assert.True(t, ok)
	assert.Equal(t, "1m30s", d.String())

	_, ok = parseDurationEnv("", "X")
	assert.False(t, ok)

	_, ok = parseDurationEnv("soon", "X")
	assert.False(t, ok)
}

func TestParseIntEnv(t *testing.T) {
	n, ok := parseIntEnv("42", "X")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	_, ok = parseIntEnv("", "X")
	assert.False(t, ok)

	_, ok = parseIntEnv("many", "X")
	assert.False(t, ok)
}
