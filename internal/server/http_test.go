package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/server/middleware"
)

func TestHTTPServerRoutes(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	sc := newTestServerContext(t, true)
	srv := NewHTTPServer(sc, HTTPConfig{MCPHandler: mcp})

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/mcp", http.StatusAccepted},
		{http.MethodGet, "/v1/capabilities", http.StatusOK},
		{http.MethodGet, "/v1/sessions", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, srv.Handler(), tt.method, tt.path, "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		})
	}
}

func TestHTTPServerCustomMCPEndpoint(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	sc := newTestServerContext(t, true)
	srv := NewHTTPServer(sc, HTTPConfig{MCPEndpoint: "/rpc", MCPHandler: mcp})

	assert.Equal(t, http.StatusAccepted, do(t, srv.Handler(), http.MethodPost, "/rpc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv.Handler(), http.MethodPost, "/mcp", "").Code)
}

func TestHTTPServerServesMetrics(t *testing.T) {
	provider := createTestProvider(t, instrumentation.ExporterPrometheus)
	sc := newTestServerContext(t, true, WithInstrumentationProvider(provider))
	srv := NewHTTPServer(sc, HTTPConfig{ServeMetrics: true})

	require.Equal(t, http.StatusOK, do(t, srv.Handler(), http.MethodGet, "/v1/capabilities", "").Code)

	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), `path="/v1/capabilities"`)
}

func TestHTTPServerCORS(t *testing.T) {
	sc := newTestServerContext(t, true)
	srv := NewHTTPServer(sc, HTTPConfig{
		Security: middleware.SecurityConfig{AllowedOrigins: []string{"https://console.example.com"}},
	})

	req, err := http.NewRequest(http.MethodOptions, "/v1/dispatch", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := doRequest(srv.Handler(), req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPServerServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	sc := newTestServerContext(t, true)
	srv := NewHTTPServer(sc, HTTPConfig{Addr: addr})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.Health().IsReady())
}

func TestHTTPServerServeListenError(t *testing.T) {
	sc := newTestServerContext(t, true)
	srv := NewHTTPServer(sc, HTTPConfig{Addr: "not-an-address"})

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "HTTP server stopped with error"))
}
