// Package tools provides shared utilities and types for MCP tool implementations.
package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-dispatch/internal/instrumentation"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
	"github.com/giantswarm/mcp-dispatch/internal/server"
)

// ToolHandler is the signature for MCP tool handler functions that take ServerContext.
type ToolHandler func(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error)

// Wrap adapts handler to the mcp-go handler signature. Every invocation runs
// in a tool span and is logged with its duration and outcome. Calls after
// shutdown are refused.
func Wrap(
	toolName string,
	handler ToolHandler,
	sc *server.ServerContext,
) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if sc.IsShutdown() {
			return mcp.NewToolResultError(server.ErrServerShutdown.Error()), nil
		}

		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		logger := logging.WithTool(sc.Logger(), toolName)
		start := time.Now()

		result, err := handler(ctx, request, sc)

		attrs := []any{logging.Duration(time.Since(start))}
		if traceID := instrumentation.GetTraceID(ctx); traceID != "" {
			attrs = append(attrs, slog.String("trace_id", traceID))
		}

		switch {
		case err != nil:
			instrumentation.SetSpanError(span, err)
			logger.Error("Tool invocation failed", append(attrs, logging.Err(err))...)
		case result != nil && result.IsError:
			// MCP tool errors are returned in the result, not as Go errors
			msg := errorText(result)
			instrumentation.SetSpanError(span, errors.New(msg))
			logger.Warn("Tool returned an error", append(attrs, slog.String("error", msg))...)
		default:
			instrumentation.SetSpanSuccess(span)
			logger.Debug("Tool invocation completed", attrs...)
		}

		return result, err
	}
}

func errorText(result *mcp.CallToolResult) string {
	if len(result.Content) > 0 {
		if text, ok := result.Content[0].(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
