// Package cmd provides the command-line interface for mcp-dispatch.
//
// This package implements a Cobra-based CLI with multiple subcommands:
//   - serve: Starts the MCP server (default behavior when no subcommand is provided)
//   - capabilities: Lists the capabilities and operations of a capabilities file
//   - version: Displays the application version
//   - self-update: Updates the binary to the latest version from GitHub releases
//
// Command Structure:
//
//	mcp-dispatch [flags]                           # Starts the MCP server (default)
//	mcp-dispatch serve --config capabilities.yaml  # Explicitly starts the MCP server
//	mcp-dispatch capabilities --config FILE        # Prints capabilities without contacting backends
//	mcp-dispatch version                           # Shows version information
//	mcp-dispatch self-update                       # Updates to latest release
//
// The serve command supports two transports:
//   - stdio: Standard input/output (default) for local MCP clients
//   - streamable-http: MCP over HTTP, served next to the /v1 JSON API and the
//     health probes
//
// Every serve flag falls back to an environment variable when it is not given
// on the command line, for example DISPATCH_CONFIG, DISPATCH_TRANSPORT,
// SESSION_IDLE_TIMEOUT and ROUTER_MAX_RETRIES. Settings in the capabilities
// file sit between the built-in defaults and the command line.
package cmd
