package dispatch

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	core "github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
	"github.com/giantswarm/mcp-dispatch/internal/server"
	"github.com/giantswarm/mcp-dispatch/internal/tools"
)

// handleDispatch builds a request envelope from the tool arguments and runs it
// through the router. Malformed envelopes are tool errors; every routed
// request, failed or not, yields a result envelope.
func handleDispatch(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	req, err := parseRequest(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid dispatch request: %v", err)), nil
	}
	if err := req.Validate(); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid dispatch request: %v", err)), nil
	}

	res := sc.Router().Dispatch(ctx, req)
	return tools.RenderResult(res, sc.Config().MaxResponseBytes), nil
}

func parseRequest(args map[string]any) (core.Request, error) {
	var req core.Request
	var err error

	if req.Operation, err = tools.StringArg(args, "operation"); err != nil {
		return req, err
	}
	if req.SessionID, err = tools.StringArg(args, "session_id"); err != nil {
		return req, err
	}
	if req.Capability, err = tools.StringArg(args, "capability"); err != nil {
		return req, err
	}
	if req.Capabilities, err = tools.StringListArg(args, "capabilities"); err != nil {
		return req, err
	}
	if req.Sequence, err = tools.IntArg(args, "sequence", 0); err != nil {
		return req, err
	}
	if req.TimeoutMS, err = tools.IntArg(args, "timeout_ms", 0); err != nil {
		return req, err
	}
	params, err := tools.ObjectArg(args, "params")
	if err != nil {
		return req, err
	}
	req.Params = core.Params(params)
	return req, nil
}

// CapabilitiesResponse is the result of list_capabilities.
type CapabilitiesResponse struct {
	Capabilities []core.Capability `json:"capabilities"`
	Count        int               `json:"count"`
}

func handleListCapabilities(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	op, err := tools.StringArg(request.GetArguments(), "operation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	all := sc.Registry().Capabilities()
	out := make([]core.Capability, 0, len(all))
	for _, c := range all {
		if op == "" || c.Supports(op) {
			out = append(out, c)
		}
	}
	return tools.JSONResult(CapabilitiesResponse{Capabilities: out, Count: len(out)}), nil
}

func handleGetSession(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap, ok := sc.Sessions().Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Session %s not found", id)), nil
	}
	return tools.JSONResult(snap), nil
}

func handleCloseSession(_ context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !sc.Sessions().Close(id) {
		return mcp.NewToolResultError(fmt.Sprintf("Session %s not found", id)), nil
	}
	sc.Logger().Info("Session closed via MCP", logging.SessionHash(id))
	return tools.JSONResult(map[string]any{"session_id": id, "closed": true}), nil
}
