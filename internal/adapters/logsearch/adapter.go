// Package logsearch implements the log-search adapter for Elasticsearch.
package logsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/giantswarm/mcp-dispatch/internal/adapters/transport"
	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// DefaultTimeout bounds a single cluster request when the config sets none.
const DefaultTimeout = 10 * time.Second

// DefaultUsername is used when a password is configured without a user.
const DefaultUsername = "elastic"

// Adapter talks to one Elasticsearch cluster.
type Adapter struct {
	es      *elasticsearch.Client
	timeout time.Duration
}

var (
	_ dispatch.Adapter = (*Adapter)(nil)
	_ dispatch.Pinger  = (*Adapter)(nil)
)

// New creates an adapter from cfg.
func New(cfg dispatch.AdapterConfig) (*Adapter, error) {
	rt, err := transport.RoundTripper(cfg, transport.AuthNone)
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Err: err}
	}
	password, err := cfg.ResolveCredential()
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Invalid: map[string]string{dispatch.ConfigCredentialRef: err.Error()}}
	}
	username := cfg.Get(ConfigUsername)
	if username == "" && password != "" {
		username = DefaultUsername
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Endpoint()},
		Username:  username,
		Password:  password,
		Transport: rt,
		// The router owns retries.
		DisableRetry: true,
	})
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Err: err}
	}

	return &Adapter{es: es, timeout: cfg.Timeout(DefaultTimeout)}, nil
}

// Factory builds the adapter for the registry.
func Factory(cfg dispatch.AdapterConfig) (dispatch.Adapter, error) {
	return New(cfg)
}

// Invoke implements dispatch.Adapter.
func (a *Adapter) Invoke(ctx context.Context, op string, params dispatch.Params) (*dispatch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	switch op {
	case OpTestConnection:
		return a.testConnection(ctx)
	case OpListIndices:
		return a.listIndices(ctx, params)
	case OpGetMappings:
		return a.getMappings(ctx, params)
	case OpSearch:
		return a.search(ctx, params)
	case OpESQL:
		return a.esql(ctx, params)
	case OpGetShards:
		return a.getShards(ctx, params)
	}
	return nil, &dispatch.UnsupportedOperationError{Capability: Kind, Operation: op}
}

// Ping issues a HEAD request against the cluster root.
func (a *Adapter) Ping(ctx context.Context) error {
	res, err := a.es.Ping(a.es.Ping.WithContext(ctx))
	if err != nil {
		return dispatch.Classify(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return statusError(res.StatusCode, nil)
	}
	return nil
}

func (a *Adapter) testConnection(ctx context.Context) (*dispatch.Result, error) {
	var info struct {
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := decode(a.es.Info(a.es.Info.WithContext(ctx)))(&info); err != nil {
		return nil, err
	}

	var stats struct {
		Nodes struct {
			Count struct {
				Total int `json:"total"`
			} `json:"count"`
		} `json:"nodes"`
	}
	if err := decode(a.es.Cluster.Stats(a.es.Cluster.Stats.WithContext(ctx)))(&stats); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"cluster_name": info.ClusterName,
		"version":      info.Version.Number,
		"node_count":   stats.Nodes.Count.Total,
	}
	return dispatch.Data(payload, fmt.Sprintf("Connected to cluster %s (%s, %d nodes)",
		info.ClusterName, info.Version.Number, stats.Nodes.Count.Total)), nil
}

func (a *Adapter) listIndices(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	pattern, err := params.String("pattern")
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		pattern = "*"
	}

	var indices map[string]json.RawMessage
	if err := decode(a.es.Indices.Get([]string{pattern}, a.es.Indices.Get.WithContext(ctx)))(&indices); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(indices))
	for name := range indices {
		names = append(names, name)
	}
	sort.Strings(names)

	return dispatch.Data(map[string]any{"indices": names, "count": len(names)},
		fmt.Sprintf("Found %d indices", len(names))), nil
}

func (a *Adapter) getMappings(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	index, err := params.RequiredString("index")
	if err != nil {
		return nil, err
	}

	var mappings map[string]any
	res, err := a.es.Indices.GetMapping(
		a.es.Indices.GetMapping.WithIndex(index),
		a.es.Indices.GetMapping.WithContext(ctx),
	)
	if err := decode(res, err)(&mappings); err != nil {
		return nil, err
	}

	return dispatch.Data(map[string]any{"index": index, "mappings": mappings},
		fmt.Sprintf("Retrieved mappings for index %s", index)), nil
}

type searchResponse struct {
	TimedOut bool `json:"timed_out"`
	Shards   struct {
		Total      int `json:"total"`
		Successful int `json:"successful"`
		Failed     int `json:"failed"`
	} `json:"_shards"`
	Hits struct {
		Total json.RawMessage `json:"total"`
		Hits  []any           `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]any `json:"aggregations,omitempty"`
}

// total reads hits.total in both the object and the legacy number form.
func (r searchResponse) total() int64 {
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(r.Hits.Total, &obj); err == nil {
		return obj.Value
	}
	var n int64
	_ = json.Unmarshal(r.Hits.Total, &n)
	return n
}

func (a *Adapter) search(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	index, err := params.RequiredString("index")
	if err != nil {
		return nil, err
	}
	query, err := params.Object("query")
	if err != nil {
		return nil, err
	}
	if query == nil {
		return nil, dispatch.MissingParameter("query")
	}
	size, err := params.Int("size", -1)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, &dispatch.InvalidParameterError{Operation: OpSearch, Param: "query", Reason: err.Error()}
	}

	opts := []func(*esapi.SearchRequest){
		a.es.Search.WithContext(ctx),
		a.es.Search.WithIndex(index),
		a.es.Search.WithBody(bytes.NewReader(body)),
	}
	if size >= 0 {
		opts = append(opts, a.es.Search.WithSize(size))
	}

	var sr searchResponse
	if err := decode(a.es.Search(opts...))(&sr); err != nil {
		return nil, err
	}

	total := sr.total()
	payload := map[string]any{"total": total, "hits": sr.Hits.Hits}
	if len(sr.Aggregations) > 0 {
		payload["aggregations"] = sr.Aggregations
	}
	summary := fmt.Sprintf("Found %d documents", total)

	switch {
	case sr.TimedOut:
		return dispatch.Partial(payload, "search timed out before all shards answered", summary), nil
	case sr.Shards.Failed > 0:
		return dispatch.Partial(payload,
			fmt.Sprintf("%d of %d shards failed", sr.Shards.Failed, sr.Shards.Total), summary), nil
	}
	return dispatch.Data(payload, summary), nil
}

func (a *Adapter) esql(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	query, err := params.RequiredString("query")
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, dispatch.NewProtocolError("encode ES|QL request", err)
	}

	var out struct {
		Columns []map[string]any `json:"columns"`
		Values  [][]any          `json:"values"`
	}
	res, err := a.es.EsqlQuery(bytes.NewReader(body),
		a.es.EsqlQuery.WithContext(ctx),
		a.es.EsqlQuery.WithFormat("json"),
	)
	if err := decode(res, err)(&out); err != nil {
		return nil, err
	}

	return dispatch.Data(map[string]any{"columns": out.Columns, "values": out.Values},
		fmt.Sprintf("%d rows", len(out.Values))), nil
}

func (a *Adapter) getShards(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	indices, err := params.Strings("indices")
	if err != nil {
		return nil, err
	}

	opts := []func(*esapi.CatShardsRequest){
		a.es.Cat.Shards.WithContext(ctx),
		a.es.Cat.Shards.WithFormat("json"),
	}
	if len(indices) > 0 {
		opts = append(opts, a.es.Cat.Shards.WithIndex(indices...))
	}

	var shards []map[string]any
	if err := decode(a.es.Cat.Shards(opts...))(&shards); err != nil {
		return nil, err
	}

	return dispatch.Data(map[string]any{"shards": shards, "count": len(shards)},
		fmt.Sprintf("%d shards", len(shards))), nil
}

// decode turns a client response into a function that unmarshals its body
// into out, classifying transport failures and error statuses.
func decode(res *esapi.Response, err error) func(out any) error {
	return func(out any) error {
		if err != nil {
			return dispatch.Classify(err)
		}
		defer res.Body.Close()

		body, readErr := io.ReadAll(res.Body)
		if readErr != nil {
			return dispatch.NewTransientError("read response body", readErr)
		}
		if res.IsError() {
			return statusError(res.StatusCode, body)
		}
		if jsonErr := json.Unmarshal(body, out); jsonErr != nil {
			return dispatch.NewProtocolError("decode response", jsonErr)
		}
		return nil
	}
}

// statusError maps an error response onto the taxonomy, keeping the
// cluster's reason verbatim.
func statusError(code int, body []byte) error {
	msg := reason(body)
	if msg == "" {
		msg = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		return dispatch.NewTransientError(msg, nil)
	}
	return dispatch.NewPermanentError(msg)
}

func reason(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return strings.TrimSpace(string(body))
	}

	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(env.Error, &detail); err == nil && detail.Reason != "" {
		return detail.Reason
	}
	var plain string
	if err := json.Unmarshal(env.Error, &plain); err == nil {
		return plain
	}
	return string(env.Error)
}
