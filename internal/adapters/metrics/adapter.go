// Package metrics implements the metric-query adapter for Thanos and
// Prometheus query APIs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/giantswarm/mcp-dispatch/internal/adapters/transport"
	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// DefaultTimeout bounds a single backend request when the config sets none.
const DefaultTimeout = 30 * time.Second

// allSeries selects every metric for list_metrics without a matcher.
const allSeries = `{__name__=~".+"}`

// Adapter talks to a Prometheus-compatible HTTP API.
type Adapter struct {
	client  api.Client
	api     v1.API
	timeout time.Duration
	now     func() time.Time
}

var (
	_ dispatch.Adapter = (*Adapter)(nil)
	_ dispatch.Pinger  = (*Adapter)(nil)
)

// New creates an adapter from cfg.
func New(cfg dispatch.AdapterConfig) (*Adapter, error) {
	rt, err := transport.RoundTripper(cfg, transport.AuthBearer)
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Invalid: map[string]string{dispatch.ConfigCredentialRef: err.Error()}}
	}

	client, err := api.NewClient(api.Config{
		Address:      cfg.Endpoint(),
		RoundTripper: rt,
	})
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Err: err}
	}

	return &Adapter{
		client:  client,
		api:     v1.NewAPI(client),
		timeout: cfg.Timeout(DefaultTimeout),
		now:     time.Now,
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

	switch op {
	case OpQuery, OpInstant:
		return a.query(ctx, params)
	case OpQueryRange:
		return a.queryRange(ctx, params)
	case OpListMetrics:
		return a.listMetrics(ctx, params)
	case OpGetMetricMetadata:
		return a.metadata(ctx, params)
	case OpExploreLabels:
		return a.exploreLabels(ctx, params)
	case OpAnalyzeTrends:
		return a.analyzeTrends(ctx, params)
	case OpTestConnection:
		if err := a.Ping(ctx); err != nil {
			return nil, err
		}
		return dispatch.Data(map[string]any{"status": "healthy"}, "Query endpoint is healthy"), nil
	}
	return nil, &dispatch.UnsupportedOperationError{Capability: Kind, Operation: op}
}

// Ping checks the /-/healthy endpoint.
func (a *Adapter) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.URL("/-/healthy", nil).String(), nil)
	if err != nil {
		return dispatch.NewProtocolError("build health request", err)
	}
	resp, body, err := a.client.Do(ctx, req)
	if err != nil {
		return classify(err)
	}
	return statusError(resp.StatusCode, body)
}

func (a *Adapter) query(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	query, err := params.RequiredString("query")
	if err != nil {
		return nil, err
	}
	ts, ok, err := params.Time("time")
	if err != nil {
		return nil, err
	}
	if !ok {
		ts = a.now()
	}

	value, warnings, err := a.api.Query(ctx, query, ts)
	if err != nil {
		return nil, classify(err)
	}
	payload := map[string]any{
		"resultType": value.Type().String(),
		"result":     value,
	}
	return withWarnings(payload, warnings, describe(value)), nil
}

func (a *Adapter) queryRange(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	query, err := params.RequiredString("query")
	if err != nil {
		return nil, err
	}
	start, _, err := params.Time("start")
	if err != nil {
		return nil, err
	}
	end, _, err := params.Time("end")
	if err != nil {
		return nil, err
	}
	step, err := params.Duration("step", 0)
	if err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, &dispatch.InvalidParameterError{Operation: OpQueryRange, Param: "step", Reason: "must be positive"}
	}
	if end.Before(start) {
		return nil, &dispatch.InvalidParameterError{Operation: OpQueryRange, Param: "end", Reason: "must not be before start"}
	}

	value, warnings, err := a.api.QueryRange(ctx, query, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, classify(err)
	}
	payload := map[string]any{
		"resultType": value.Type().String(),
		"result":     value,
	}
	return withWarnings(payload, warnings, describe(value)), nil
}

func (a *Adapter) listMetrics(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	match, err := params.String("match")
	if err != nil {
		return nil, err
	}
	if match == "" {
		match = allSeries
	}

	series, warnings, err := a.api.Series(ctx, []string{match}, time.Time{}, time.Time{})
	if err != nil {
		return nil, classify(err)
	}

	seen := make(map[string]struct{}, len(series))
	for _, ls := range series {
		if name := string(ls[model.MetricNameLabel]); name != "" {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	payload := map[string]any{"metrics": names, "count": len(names)}
	return withWarnings(payload, warnings, fmt.Sprintf("%d metrics", len(names))), nil
}

func (a *Adapter) metadata(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	metric, err := params.RequiredString("metric")
	if err != nil {
		return nil, err
	}

	md, err := a.api.Metadata(ctx, metric, "")
	if err != nil {
		return nil, classify(err)
	}
	entries := md[metric]
	if len(entries) == 0 {
		return dispatch.Data(map[string]any{"metric": metric, "metadata": []v1.Metadata{}},
			fmt.Sprintf("No metadata for %s", metric)), nil
	}
	return dispatch.Data(map[string]any{"metric": metric, "metadata": entries},
		fmt.Sprintf("%s is a %s", metric, entries[0].Type)), nil
}

func (a *Adapter) exploreLabels(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	label, err := params.String("label")
	if err != nil {
		return nil, err
	}

	if label == "" {
		names, warnings, err := a.api.LabelNames(ctx, nil, time.Time{}, time.Time{})
		if err != nil {
			return nil, classify(err)
		}
		return withWarnings(map[string]any{"labels": names, "count": len(names)}, warnings,
			fmt.Sprintf("%d label names", len(names))), nil
	}

	values, warnings, err := a.api.LabelValues(ctx, label, nil, time.Time{}, time.Time{})
	if err != nil {
		return nil, classify(err)
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return withWarnings(map[string]any{"label": label, "values": out, "count": len(out)}, warnings,
		fmt.Sprintf("%d values for label %s", len(out), label)), nil
}

func (a *Adapter) analyzeTrends(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	query, err := params.RequiredString("query")
	if err != nil {
		return nil, err
	}
	window, err := params.String("duration")
	if err != nil {
		return nil, err
	}
	if window == "" {
		window = "1h"
	}
	kind, err := params.String("analysis_type")
	if err != nil {
		return nil, err
	}
	analysis, err := parseAnalysisType(kind)
	if err != nil {
		return nil, err
	}
	length, step, err := parseWindow(window)
	if err != nil {
		return nil, err
	}

	end := a.now()
	value, warnings, err := a.api.QueryRange(ctx, query, v1.Range{Start: end.Add(-length), End: end, Step: step})
	if err != nil {
		return nil, classify(err)
	}
	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, dispatch.NewProtocolError(fmt.Sprintf("range query returned %s, expected matrix", value.Type()), nil)
	}

	report := analyze(matrix, analysis)
	payload := map[string]any{
		"query":           query,
		"duration":        window,
		"step":            step.String(),
		"analysis_type":   string(analysis),
		"summary":         report.Summary,
		"results":         report.Series,
		"recommendations": report.Recommendations,
	}
	return withWarnings(payload, warnings, report.Summary), nil
}

// withWarnings returns DATA, or PARTIAL when the backend reported warnings.
func withWarnings(payload map[string]any, warnings v1.Warnings, summary string) *dispatch.Result {
	if len(warnings) == 0 {
		return dispatch.Data(payload, summary)
	}
	payload["warnings"] = []string(warnings)
	return dispatch.Partial(payload, "backend warnings: "+strings.Join(warnings, "; "), summary)
}

func describe(value model.Value) string {
	switch v := value.(type) {
	case model.Vector:
		return fmt.Sprintf("%d series", len(v))
	case model.Matrix:
		return fmt.Sprintf("%d series", len(v))
	case *model.Scalar:
		return fmt.Sprintf("scalar %s", v.Value)
	case *model.String:
		return "string result"
	}
	return value.Type().String()
}

// classify maps query API failures onto the error taxonomy.
func classify(err error) error {
	var apiErr *v1.Error
	if !errors.As(err, &apiErr) {
		return dispatch.Classify(err)
	}
	switch apiErr.Type {
	case v1.ErrBadData, v1.ErrExec:
		return dispatch.NewPermanentError(apiErr.Msg)
	case v1.ErrTimeout, v1.ErrCanceled, v1.ErrServer:
		return dispatch.NewTransientError("", err)
	case v1.ErrBadResponse:
		return dispatch.NewProtocolError("undecodable query API response", err)
	case v1.ErrClient:
		if strings.Contains(apiErr.Msg, "429") {
			return dispatch.NewTransientError("", err)
		}
		// Msg is only "client error: <code>"; the backend's body is in Detail.
		if detail := strings.TrimSpace(apiErr.Detail); detail != "" {
			return dispatch.NewPermanentError(detail)
		}
	}
	return dispatch.NewPermanentError(apiErr.Msg)
}

func statusError(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return dispatch.NewTransientError(fmt.Sprintf("health check returned %d", code), nil)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(code)
	}
	return dispatch.NewPermanentError(msg)
}
