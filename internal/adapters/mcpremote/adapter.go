// Package mcpremote implements the mcp-remote adapter, which forwards
// operations as tool calls to a remote MCP server.
package mcpremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcp-dispatch/internal/adapters/transport"
	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// DefaultTimeout bounds a single tool call when the config sets none.
const DefaultTimeout = 30 * time.Second

// clientVersion is reported to remote servers during initialization.
var clientVersion = "dev"

// SetClientVersion sets the version announced to remote servers.
func SetClientVersion(v string) {
	if v != "" {
		clientVersion = v
	}
}

// Adapter holds a lazily established MCP client session.
type Adapter struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
	tools      map[string]bool

	connectGroup singleflight.Group

	mu     sync.Mutex
	client *client.Client
}

var (
	_ dispatch.Adapter = (*Adapter)(nil)
	_ dispatch.Pinger  = (*Adapter)(nil)
	_ dispatch.Closer  = (*Adapter)(nil)
)

// New creates an adapter from cfg. No connection is made until the first call.
func New(cfg dispatch.AdapterConfig) (*Adapter, error) {
	rt, err := transport.RoundTripper(cfg, transport.AuthBearer)
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Invalid: map[string]string{dispatch.ConfigCredentialRef: err.Error()}}
	}

	tools := map[string]bool{}
	for _, op := range cfg.List(ConfigOperations) {
		tools[op] = true
	}
	if len(tools) == 0 {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Missing: []string{ConfigOperations}}
	}

	return &Adapter{
		endpoint:   cfg.Endpoint(),
		httpClient: &http.Client{Transport: rt},
		timeout:    cfg.Timeout(DefaultTimeout),
		tools:      tools,
	}, nil
}

// Factory builds the adapter for the registry.
func Factory(cfg dispatch.AdapterConfig) (dispatch.Adapter, error) {
	return New(cfg)
}

// Invoke implements dispatch.Adapter.
func (a *Adapter) Invoke(ctx context.Context, op string, params dispatch.Params) (*dispatch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if !a.tools[op] {
		if op == OpTestConnection {
			if err := a.Ping(ctx); err != nil {
				return nil, err
			}
			return dispatch.Data(map[string]any{"status": "reachable", "endpoint": a.endpoint}, "Remote MCP server answered ping"), nil
		}
		return nil, &dispatch.UnsupportedOperationError{Capability: Kind, Operation: op}
	}

	c, err := a.connection(ctx)
	if err != nil {
		return nil, err
	}

	args := map[string]any(params)
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: op, Arguments: args},
	})
	if err != nil {
		return nil, a.fail(ctx, c, err)
	}
	return toResult(op, res)
}

// Ping sends an MCP ping, connecting first if needed.
func (a *Adapter) Ping(ctx context.Context) error {
	c, err := a.connection(ctx)
	if err != nil {
		return err
	}
	if err := c.Ping(ctx); err != nil {
		return a.fail(ctx, c, err)
	}
	return nil
}

// Close ends the client session, if any.
func (a *Adapter) Close(_ context.Context) error {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// connection returns the live client, establishing it once for all
// concurrent callers.
func (a *Adapter) connection(ctx context.Context) (*client.Client, error) {
	a.mu.Lock()
	c := a.client
	a.mu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := a.connectGroup.Do("connect", func() (any, error) {
		a.mu.Lock()
		existing := a.client
		a.mu.Unlock()
		if existing != nil {
			return existing, nil
		}

		c, err := a.dial(ctx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.client = c
		a.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.Client), nil
}

func (a *Adapter) dial(ctx context.Context) (*client.Client, error) {
	c, err := client.NewStreamableHttpClient(a.endpoint, mcptransport.WithHTTPBasicClient(a.httpClient))
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Err: err}
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, classify(ctx, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "mcp-dispatch", Version: clientVersion}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, classify(ctx, err)
	}
	return c, nil
}

// fail classifies err and forgets c after a transport failure so the next
// call reconnects.
func (a *Adapter) fail(ctx context.Context, c *client.Client, err error) error {
	classified := classify(ctx, err)
	if dispatch.IsRetryable(classified) {
		a.mu.Lock()
		if a.client == c {
			a.client = nil
		}
		a.mu.Unlock()
		_ = c.Close()
	}
	return classified
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return dispatch.NewTimeoutError(ctx.Err())
	}
	var terr *mcptransport.Error
	if errors.As(err, &terr) {
		return dispatch.NewTransientError("", err)
	}
	return dispatch.Classify(err)
}

// toResult converts a tool result into a result envelope. JSON text content
// is decoded; other text is returned as {"text": ...}.
func toResult(op string, res *mcp.CallToolResult) (*dispatch.Result, error) {
	if res == nil {
		return nil, dispatch.NewProtocolError(fmt.Sprintf("remote tool %s returned no result", op), nil)
	}

	var texts []string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if res.IsError {
		if text == "" {
			text = fmt.Sprintf("remote tool %s failed", op)
		}
		return nil, dispatch.NewPermanentError(text)
	}

	summary := fmt.Sprintf("%s returned %d content items", op, len(res.Content))
	switch {
	case res.StructuredContent != nil:
		return dispatch.Data(res.StructuredContent, summary), nil
	case len(texts) == 0:
		return dispatch.Data(map[string]any{"content": res.Content}, summary), nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return dispatch.Data(decoded, summary), nil
	}
	return dispatch.Data(map[string]any{"text": text}, summary), nil
}
