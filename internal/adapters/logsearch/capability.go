package logsearch

import "github.com/giantswarm/mcp-dispatch/internal/dispatch"

// Kind is the catalog name of the log-search adapter.
const Kind = "log-search"

// Operation names.
const (
	OpTestConnection = "test_connection"
	OpListIndices    = "list_indices"
	OpGetMappings    = "get_mappings"
	OpSearch         = "search"
	OpESQL           = "esql"
	OpGetShards      = "get_shards"
)

// ConfigUsername is the basic auth user. credential_ref holds the password.
const ConfigUsername = "username"

// Capability describes the operations of an Elasticsearch cluster.
func Capability() dispatch.Capability {
	return dispatch.Capability{
		Name:        Kind,
		Description: "Index inspection and search against Elasticsearch",
		Operations: []dispatch.OperationSpec{
			{Name: OpTestConnection, Description: "Cluster name, version and node count"},
			{
				Name:        OpListIndices,
				Description: "Indices matching a pattern",
				Params: []dispatch.ParamSpec{
					{Name: "pattern", Type: dispatch.ParamString, Description: `Index pattern, defaults to "*"`},
				},
			},
			{
				Name:        OpGetMappings,
				Description: "Field mappings of an index",
				Params: []dispatch.ParamSpec{
					{Name: "index", Type: dispatch.ParamString, Required: true},
				},
			},
			{
				Name:        OpSearch,
				Description: "Query DSL search",
				Params: []dispatch.ParamSpec{
					{Name: "index", Type: dispatch.ParamString, Required: true},
					{Name: "query", Type: dispatch.ParamObject, Required: true, Description: "Search request body"},
					{Name: "size", Type: dispatch.ParamNumber, Description: "Maximum hits to return"},
				},
			},
			{
				Name:        OpESQL,
				Description: "ES|QL query",
				Params: []dispatch.ParamSpec{
					{Name: "query", Type: dispatch.ParamString, Required: true},
				},
			},
			{
				Name:        OpGetShards,
				Description: "Shard allocation for all or selected indices",
				Params: []dispatch.ParamSpec{
					{Name: "indices", Type: dispatch.ParamArray},
				},
			},
		},
		Config: []dispatch.ConfigField{
			{Name: dispatch.ConfigEndpoint, Required: true, Description: "Cluster URL"},
			{Name: ConfigUsername, Description: `Basic auth user (default "elastic" when a password is set)`},
			{Name: dispatch.ConfigCredentialRef, Description: "Basic auth password reference"},
			{Name: dispatch.ConfigTimeout, Description: "Request timeout (default 10s)"},
			{Name: dispatch.ConfigSSLVerify, Description: "Verify TLS certificates (default true)"},
		},
	}
}
