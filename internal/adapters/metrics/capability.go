package metrics

import "github.com/giantswarm/mcp-dispatch/internal/dispatch"

// Kind is the catalog name of the metric-query adapter.
const Kind = "metric-query"

// Operation names.
const (
	OpQuery             = "query"
	OpInstant           = "instant"
	OpQueryRange        = "query_range"
	OpListMetrics       = "list_metrics"
	OpGetMetricMetadata = "get_metric_metadata"
	OpExploreLabels     = "explore_labels"
	OpAnalyzeTrends     = "analyze_trends"
	OpTestConnection    = "test_connection"
)

var queryParams = []dispatch.ParamSpec{
	{Name: "query", Type: dispatch.ParamString, Required: true, Description: "PromQL expression"},
	{Name: "time", Type: dispatch.ParamTime, Description: "Evaluation time (RFC3339 or Unix seconds), defaults to now"},
}

// Capability describes the operations of a Thanos or Prometheus query endpoint.
func Capability() dispatch.Capability {
	return dispatch.Capability{
		Name:        Kind,
		Description: "PromQL queries against a Thanos or Prometheus HTTP API",
		Operations: []dispatch.OperationSpec{
			{Name: OpQuery, Description: "Instant query", Params: queryParams},
			{Name: OpInstant, Description: "Instant query (alias of query)", Params: queryParams},
			{
				Name:        OpQueryRange,
				Description: "Range query",
				Params: []dispatch.ParamSpec{
					{Name: "query", Type: dispatch.ParamString, Required: true},
					{Name: "start", Type: dispatch.ParamTime, Required: true},
					{Name: "end", Type: dispatch.ParamTime, Required: true},
					{Name: "step", Type: dispatch.ParamDuration, Required: true},
				},
			},
			{
				Name:        OpListMetrics,
				Description: "Unique metric names of the matching series",
				Params: []dispatch.ParamSpec{
					{Name: "match", Type: dispatch.ParamString, Description: "Series selector, defaults to every metric"},
				},
			},
			{
				Name:        OpGetMetricMetadata,
				Description: "Type, help and unit of a metric",
				Params: []dispatch.ParamSpec{
					{Name: "metric", Type: dispatch.ParamString, Required: true},
				},
			},
			{
				Name:        OpExploreLabels,
				Description: "Label names, or the values of one label",
				Params: []dispatch.ParamSpec{
					{Name: "label", Type: dispatch.ParamString},
				},
			},
			{
				Name:        OpAnalyzeTrends,
				Description: "Summary, trend or anomaly analysis of a query over a recent window",
				Params: []dispatch.ParamSpec{
					{Name: "query", Type: dispatch.ParamString, Required: true},
					{Name: "duration", Type: dispatch.ParamString, Description: "Window such as 30m, 6h or 7d (default 1h)"},
					{Name: "analysis_type", Type: dispatch.ParamString, Description: "basic, trend or anomaly (default basic)"},
				},
			},
			{Name: OpTestConnection, Description: "Check that the query endpoint is healthy"},
		},
		Config: []dispatch.ConfigField{
			{Name: dispatch.ConfigEndpoint, Required: true, Description: "Base URL of the query API"},
			{Name: dispatch.ConfigCredentialRef, Description: "Bearer token reference"},
			{Name: dispatch.ConfigTimeout, Description: "Request timeout (default 30s)"},
			{Name: dispatch.ConfigSSLVerify, Description: "Verify TLS certificates (default true)"},
		},
	}
}
