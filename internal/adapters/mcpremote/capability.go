package mcpremote

import (
	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Kind is the catalog name of the mcp-remote adapter.
const Kind = "mcp-remote"

// OpTestConnection pings the remote server unless a remote tool of the same
// name is configured.
const OpTestConnection = "test_connection"

// ConfigOperations lists the remote tool names exposed as operations.
const ConfigOperations = "operations"

// Capability describes a remote MCP server. Its operations are the remote
// tools named in cfg; their arguments are passed through unchanged.
func Capability(cfg dispatch.AdapterConfig) dispatch.Capability {
	c := dispatch.Capability{
		Name:        Kind,
		Description: "Tools of a remote MCP server reached over streamable HTTP",
		Config: []dispatch.ConfigField{
			{Name: dispatch.ConfigEndpoint, Required: true, Description: "Streamable HTTP endpoint, usually ending in /mcp"},
			{Name: ConfigOperations, Required: true, Description: "Comma separated remote tool names"},
			{Name: dispatch.ConfigCredentialRef, Description: "Bearer token reference"},
			{Name: dispatch.ConfigTimeout, Description: "Call timeout (default 30s)"},
			{Name: dispatch.ConfigSSLVerify, Description: "Verify TLS certificates (default true)"},
		},
	}

	seen := map[string]bool{}
	for _, op := range cfg.List(ConfigOperations) {
		if seen[op] {
			continue
		}
		seen[op] = true
		c.Operations = append(c.Operations, dispatch.OperationSpec{Name: op, Description: "Remote tool " + op})
	}
	if len(c.Operations) > 0 && !seen[OpTestConnection] {
		c.Operations = append(c.Operations, dispatch.OperationSpec{Name: OpTestConnection, Description: "Ping the remote server"})
	}
	return c
}
