package server

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// echoCapability answers "echo" with its params.
var echoCapability = dispatch.Capability{
	Name:       "echo",
	Operations: []dispatch.OperationSpec{{Name: "echo"}},
}

func echoFactory(dispatch.AdapterConfig) (dispatch.Adapter, error) {
	return dispatch.AdapterFunc(func(_ context.Context, _ string, params dispatch.Params) (*dispatch.Result, error) {
		return dispatch.Data(map[string]any(params), "echoed"), nil
	}), nil
}

type testDeps struct {
	registry *registry.Registry
	sessions *session.Store
	router   *router.Router
}

func newTestDeps(t *testing.T) testDeps {
	t.Helper()

	logger := testLogger()
	reg := registry.New(registry.WithLogger(logger))
	store := session.NewStore(
		session.WithConfig(session.Config{IdleTimeout: session.DefaultConfig().IdleTimeout, HistoryLimit: 10, CleanupInterval: -1, MaxSessions: 100}),
		session.WithLogger(logger),
	)
	rt := router.New(reg, store, router.WithLogger(logger), router.WithRetryPolicy(router.RetryPolicy{}))
	return testDeps{registry: reg, sessions: store, router: rt}
}

// newTestServerContext builds a ServerContext, optionally with the echo
// capability bound.
func newTestServerContext(t *testing.T, bindEcho bool, opts ...Option) *ServerContext {
	t.Helper()

	deps := newTestDeps(t)
	if bindEcho {
		_, err := deps.registry.Register(echoCapability, echoFactory, nil)
		require.NoError(t, err)
	}

	all := append([]Option{
		WithRegistry(deps.registry),
		WithSessionStore(deps.sessions),
		WithRouter(deps.router),
		WithLogger(testLogger()),
	}, opts...)

	sc, err := NewServerContext(context.Background(), all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown(context.Background()) })
	return sc
}

func TestNewServerContext(t *testing.T) {
	deps := newTestDeps(t)
	t.Cleanup(func() {
		_ = deps.registry.Close(context.Background())
		deps.sessions.Stop()
	})

	tests := []struct {
		name    string
		opts    []Option
		wantErr []error
	}{
		{
			name: "all dependencies",
			opts: []Option{WithRegistry(deps.registry), WithSessionStore(deps.sessions), WithRouter(deps.router)},
		},
		{
			name:    "missing everything",
			wantErr: []error{ErrMissingRegistry, ErrMissingSessionStore, ErrMissingRouter},
		},
		{
			name:    "missing router",
			opts:    []Option{WithRegistry(deps.registry), WithSessionStore(deps.sessions)},
			wantErr: []error{ErrMissingRouter},
		},
		{
			name:    "nil logger",
			opts:    []Option{WithLogger(nil)},
			wantErr: []error{ErrMissingLogger},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := NewServerContext(context.Background(), tt.opts...)
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				assert.NotNil(t, sc.Context())
				return
			}
			require.Error(t, err)
			assert.Nil(t, sc)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestServerContextOptions(t *testing.T) {
	sc := newTestServerContext(t, false,
		WithServerName("dispatch-test"),
		WithVersion("1.2.3"),
	)

	assert.Equal(t, "dispatch-test", sc.Config().ServerName)
	assert.Equal(t, "1.2.3", sc.Config().Version)
	assert.Equal(t, int64(1<<20), sc.Config().MaxRequestBytes)
	assert.NotNil(t, sc.Registry())
	assert.NotNil(t, sc.Sessions())
	assert.NotNil(t, sc.Router())
	assert.NotNil(t, sc.Logger())
	assert.Nil(t, sc.InstrumentationProvider())
}

func TestWithConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.CapabilitiesFile = "/etc/dispatch/capabilities.yaml"
	cfg.MaxRequestBytes = 512

	sc := newTestServerContext(t, false, WithConfig(cfg))

	assert.Equal(t, "/etc/dispatch/capabilities.yaml", sc.Config().CapabilitiesFile)
	assert.Equal(t, int64(512), sc.Config().MaxRequestBytes)
}

func TestServerContextShutdown(t *testing.T) {
	sc := newTestServerContext(t, true)
	ctx := sc.Context()

	require.NoError(t, sc.Shutdown(context.Background()))
	assert.True(t, sc.IsShutdown())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	_, err := sc.Registry().Register(echoCapability, echoFactory, nil)
	assert.ErrorIs(t, err, registry.ErrClosed)

	// A second call is a no-op.
	assert.NoError(t, sc.Shutdown(context.Background()))
}

func TestConfigClone(t *testing.T) {
	var nilCfg *Config
	assert.Nil(t, nilCfg.Clone())

	cfg := NewDefaultConfig()
	clone := cfg.Clone()
	clone.ServerName = "other"
	assert.Equal(t, "mcp-dispatch", cfg.ServerName)
}
