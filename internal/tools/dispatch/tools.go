// Package dispatch exposes the dispatch router as MCP tools.
package dispatch

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-dispatch/internal/server"
	"github.com/giantswarm/mcp-dispatch/internal/tools"
)

// Tool names.
const (
	ToolDispatch         = "dispatch"
	ToolListCapabilities = "list_capabilities"
	ToolGetSession       = "get_session"
	ToolCloseSession     = "close_session"
)

// RegisterDispatchTools registers the dispatch and session tools with the MCP server.
func RegisterDispatchTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	dispatchTool := mcp.NewTool(ToolDispatch,
		mcp.WithDescription("Route an operation to the backend capability that provides it. "+
			"Use list_capabilities to discover operations. An operation may be qualified as <capability>.<operation>."),
		mcp.WithString("operation",
			mcp.Required(),
			mcp.Description("Operation name, optionally prefixed with a capability (e.g. 'metric-query.instant')"),
		),
		mcp.WithObject("params",
			mcp.Description("Operation parameters (optional)"),
		),
		tools.SessionParam(),
		mcp.WithNumber("sequence",
			mcp.Description("Per-session sequence number; repeating a sequence with the same request returns the recorded result, "+
				"reusing it for a different request is rejected (optional, 0 disables replay)"),
			mcp.Min(0),
		),
		mcp.WithString("capability",
			mcp.Description("Pin resolution to this capability (optional)"),
		),
		mcp.WithArray("capabilities",
			mcp.Description("Fan the operation out to every listed capability (optional, cannot be combined with capability)"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Overall time budget in milliseconds, retries included (optional)"),
			mcp.Min(0),
		),
		mcp.WithOpenWorldHintAnnotation(true),
	)
	s.AddTool(dispatchTool, tools.Wrap(ToolDispatch, handleDispatch, sc))

	listTool := mcp.NewTool(ToolListCapabilities,
		mcp.WithDescription("List the registered capabilities with their operations and parameters"),
		mcp.WithString("operation",
			mcp.Description("Only list capabilities providing this operation (optional)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(listTool, tools.Wrap(ToolListCapabilities, handleListCapabilities, sc))

	getSessionTool := mcp.NewTool(ToolGetSession,
		mcp.WithDescription("Show the recorded history and last used capability of a session"),
		tools.SessionParam(),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(getSessionTool, tools.Wrap(ToolGetSession, handleGetSession, sc))

	closeSessionTool := mcp.NewTool(ToolCloseSession,
		mcp.WithDescription("Close a session and discard its history"),
		tools.SessionParam(),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	)
	s.AddTool(closeSessionTool, tools.Wrap(ToolCloseSession, handleCloseSession, sc))

	return nil
}
