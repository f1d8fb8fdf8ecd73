package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/registry"
	"github.com/giantswarm/mcp-dispatch/internal/router"
	"github.com/giantswarm/mcp-dispatch/internal/server"
	"github.com/giantswarm/mcp-dispatch/internal/session"
)

func echoFactory(core.AdapterConfig) (core.Adapter, error) {
	return core.AdapterFunc(func(_ context.Context, op string, params core.Params) (*core.Result, error) {
		return core.Data(map[string]any{"op": op, "params": map[string]any(params)}, "echoed"), nil
	}), nil
}

func capability(name string, ops ...string) core.Capability {
	c := core.Capability{Name: name}
	for _, op := range ops {
		c.Operations = append(c.Operations, core.OperationSpec{Name: op})
	}
	return c
}

// newTestServerContext builds a server context over a registry with two
// capabilities that share test_connection.
func newTestServerContext(t *testing.T) *server.ServerContext {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(registry.WithLogger(logger))
	store := session.NewStore(session.WithConfig(session.Config{CleanupInterval: -1}), session.WithLogger(logger))

	_, err := reg.Register(capability("metrics", "query", "test_connection"), echoFactory, nil)
	require.NoError(t, err)
	_, err = reg.Register(capability("logs", "search", "test_connection"), echoFactory, nil)
	require.NoError(t, err)

	sc, err := server.NewServerContext(context.Background(),
		server.WithRegistry(reg),
		server.WithSessionStore(store),
		server.WithRouter(router.New(reg, store, router.WithLogger(logger))),
		server.WithLogger(logger),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown(context.Background()) })
	return sc
}

func newMCPServer(t *testing.T, sc *server.ServerContext) *mcpserver.MCPServer {
	t.Helper()
	mcpSrv := mcpserver.NewMCPServer("test", "0.0.1", mcpserver.WithToolCapabilities(true))
	require.NoError(t, RegisterDispatchTools(mcpSrv, sc))
	return mcpSrv
}

func initialize(t *testing.T, c *client.Client) {
	t.Helper()
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "test-client", Version: "1.0.0"}
	_, err := c.Initialize(context.Background(), init)
	require.NoError(t, err)
}

// newTestClient starts an in-process MCP client against the dispatch tools.
func newTestClient(t *testing.T) (*client.Client, *server.ServerContext) {
	t.Helper()
	sc := newTestServerContext(t)

	c, err := client.NewInProcessClient(newMCPServer(t, sc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(context.Background()))
	initialize(t, c)

	return c, sc
}

func call(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func decode[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &out))
	return out
}

func TestRegisterDispatchTools(t *testing.T) {
	c, _ := newTestClient(t)

	list, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)

	names := make([]string, 0, len(list.Tools))
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolDispatch, ToolListCapabilities, ToolGetSession, ToolCloseSession}, names)
}

func TestDispatchTool(t *testing.T) {
	c, _ := newTestClient(t)

	result := call(t, c, ToolDispatch, map[string]any{
		"operation":  "query",
		"params":     map[string]any{"expr": "up"},
		"session_id": "s1",
		"sequence":   1,
	})
	require.False(t, result.IsError, text(t, result))

	res := decode[core.Result](t, result)
	assert.True(t, res.Success)
	assert.Equal(t, core.KindData, res.Kind)
	assert.Equal(t, "metrics", res.Capability)
	assert.Equal(t, map[string]any{"op": "query", "params": map[string]any{"expr": "up"}}, res.Payload)
}

func TestDispatchToolAmbiguityUsesSession(t *testing.T) {
	c, _ := newTestClient(t)

	first := decode[core.Result](t, call(t, c, ToolDispatch, map[string]any{
		"operation": "logs.search", "session_id": "s1", "sequence": 1,
	}))
	require.True(t, first.Success)

	// test_connection is provided by both; the session last used logs.
	second := decode[core.Result](t, call(t, c, ToolDispatch, map[string]any{
		"operation": "test_connection", "session_id": "s1", "sequence": 2,
	}))
	require.True(t, second.Success)
	assert.Equal(t, "logs", second.Capability)

	// Without history the same request is ambiguous.
	third := decode[core.Result](t, call(t, c, ToolDispatch, map[string]any{
		"operation": "test_connection", "session_id": "s2", "sequence": 1,
	}))
	assert.False(t, third.Success)
	require.NotNil(t, third.Error)
	assert.Equal(t, core.ClassAmbiguousOperation, third.Error.Class)
}

func TestDispatchToolFanOut(t *testing.T) {
	c, _ := newTestClient(t)

	res := decode[core.Result](t, call(t, c, ToolDispatch, map[string]any{
		"operation":    "test_connection",
		"session_id":   "s1",
		"capabilities": []any{"metrics", "logs"},
	}))
	assert.True(t, res.Success)
	assert.Equal(t, core.KindData, res.Kind)

	payload, ok := res.Payload.(map[string]any)
	require.True(t, ok)
	results, ok := payload["results"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, results, "metrics")
	assert.Contains(t, results, "logs")
}

func TestDispatchToolUnknownOperationIsEnvelope(t *testing.T) {
	c, _ := newTestClient(t)

	result := call(t, c, ToolDispatch, map[string]any{"operation": "nope", "session_id": "s1"})
	assert.False(t, result.IsError)

	res := decode[core.Result](t, result)
	assert.Equal(t, core.KindError, res.Kind)
	require.NotNil(t, res.Error)
	assert.Equal(t, core.ClassUnknownOperation, res.Error.Class)
}

func TestDispatchToolInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "missing session",
			args: map[string]any{"operation": "query"},
			want: "session_id",
		},
		{
			name: "params not an object",
			args: map[string]any{"operation": "query", "session_id": "s1", "params": "expr=up"},
			want: `"params" must be an object`,
		},
		{
			name: "fractional sequence",
			args: map[string]any{"operation": "query", "session_id": "s1", "sequence": 1.5},
			want: `"sequence" must be an integer`,
		},
		{
			name: "capability with capabilities",
			args: map[string]any{"operation": "query", "session_id": "s1", "capability": "metrics", "capabilities": []any{"logs"}},
			want: "capabilities",
		},
	}

	c, _ := newTestClient(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := call(t, c, ToolDispatch, tt.args)
			assert.True(t, result.IsError)
			assert.Contains(t, text(t, result), "Invalid dispatch request")
			assert.Contains(t, text(t, result), tt.want)
		})
	}
}

func TestListCapabilitiesTool(t *testing.T) {
	c, _ := newTestClient(t)

	all := decode[CapabilitiesResponse](t, call(t, c, ToolListCapabilities, nil))
	assert.Equal(t, 2, all.Count)

	filtered := decode[CapabilitiesResponse](t, call(t, c, ToolListCapabilities, map[string]any{"operation": "search"}))
	require.Equal(t, 1, filtered.Count)
	assert.Equal(t, "logs", filtered.Capabilities[0].Name)
}

func TestSessionTools(t *testing.T) {
	c, _ := newTestClient(t)

	result := call(t, c, ToolGetSession, map[string]any{"session_id": "s1"})
	assert.True(t, result.IsError)
	assert.Contains(t, text(t, result), "Session s1 not found")

	call(t, c, ToolDispatch, map[string]any{"operation": "query", "session_id": "s1", "sequence": 1})

	snap := decode[session.Snapshot](t, call(t, c, ToolGetSession, map[string]any{"session_id": "s1"}))
	assert.Equal(t, "s1", snap.ID)
	assert.Equal(t, "metrics", snap.LastCapability)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "query", snap.History[0].Request.Operation)

	closed := call(t, c, ToolCloseSession, map[string]any{"session_id": "s1"})
	require.False(t, closed.IsError)
	assert.Contains(t, text(t, closed), `"closed": true`)

	again := call(t, c, ToolCloseSession, map[string]any{"session_id": "s1"})
	assert.True(t, again.IsError)
}

func TestParseRequest(t *testing.T) {
	req, err := parseRequest(map[string]any{
		"operation":    "query",
		"session_id":   "s1",
		"sequence":     float64(3),
		"timeout_ms":   float64(1500),
		"capabilities": "metrics, logs",
		"params":       map[string]any{"expr": "up"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.Request{
		Operation:    "query",
		SessionID:    "s1",
		Sequence:     3,
		TimeoutMS:    1500,
		Capabilities: []string{"metrics", "logs"},
		Params:       core.Params{"expr": "up"},
	}, req)
}
