package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// fakeThanos serves canned query API responses keyed by path.
func fakeThanos(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) *Adapter {
	t.Helper()

	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := New(dispatch.AdapterConfig{dispatch.ConfigEndpoint: srv.URL, dispatch.ConfigTimeout: "5s"})
	require.NoError(t, err)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func respond(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestCapabilityIsValid(t *testing.T) {
	c := Capability()
	require.NoError(t, c.Validate())
	assert.True(t, c.Supports(OpInstant))
	assert.True(t, c.Supports(OpAnalyzeTrends))

	err := c.ValidateConfig(dispatch.AdapterConfig{})
	var cerr *dispatch.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{dispatch.ConfigEndpoint}, cerr.Missing)
}

func TestInstantQuery(t *testing.T) {
	var gotQuery string
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/query": func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.FormValue("query")
			respond(http.StatusOK, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"__name__":"up","job":"api"},"value":[1700000000,"1"]}]}}`)(w, r)
		},
	})

	res, err := a.Invoke(context.Background(), OpInstant, dispatch.Params{"query": "up"})
	require.NoError(t, err)

	assert.Equal(t, "up", gotQuery)
	assert.Equal(t, dispatch.KindData, res.Kind)
	payload := res.Payload.(map[string]any)
	assert.Equal(t, "vector", payload["resultType"])
	vec := payload["result"].(model.Vector)
	require.Len(t, vec, 1)
	assert.Equal(t, model.SampleValue(1), vec[0].Value)
	assert.Equal(t, "1 series", res.Summary)
}

func TestQueryWarningsArePartial(t *testing.T) {
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/query": respond(http.StatusOK, `{"status":"success","warnings":["store eu-1 unavailable"],"data":{"resultType":"vector","result":[]}}`),
	})

	res, err := a.Invoke(context.Background(), OpQuery, dispatch.Params{"query": "up"})
	require.NoError(t, err)

	require.NoError(t, res.Validate())
	assert.Equal(t, dispatch.KindPartial, res.Kind)
	assert.Contains(t, res.Error.Message, "store eu-1 unavailable")
	assert.Equal(t, []string{"store eu-1 unavailable"}, res.Payload.(map[string]any)["warnings"])
}

func TestQueryErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantClass string
		wantMsg   string
	}{
		{
			name:      "bad data is permanent and verbatim",
			status:    http.StatusBadRequest,
			body:      `{"status":"error","errorType":"bad_data","error":"1:3: parse error: unexpected <by>"}`,
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   "1:3: parse error: unexpected <by>",
		},
		{
			name:      "execution error is permanent",
			status:    422,
			body:      `{"status":"error","errorType":"execution","error":"many-to-many matching not allowed"}`,
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   "many-to-many matching not allowed",
		},
		{
			name:      "server error is transient",
			status:    http.StatusBadGateway,
			body:      `upstream connect error`,
			wantClass: dispatch.ClassTransientAdapter,
		},
		{
			name:      "throttling is transient",
			status:    http.StatusTooManyRequests,
			body:      `slow down`,
			wantClass: dispatch.ClassTransientAdapter,
		},
		{
			name:      "proxy rejection keeps the body",
			status:    http.StatusForbidden,
			body:      "RBAC: access denied\n",
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   "RBAC: access denied",
		},
		{
			name:      "client error without a body",
			status:    http.StatusNotFound,
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   "client error: 404",
		},
		{
			name:      "garbage is a protocol error",
			status:    http.StatusOK,
			body:      `<html>not json</html>`,
			wantClass: dispatch.ClassProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
				"/api/v1/query": respond(tt.status, tt.body),
			})

			_, err := a.Invoke(context.Background(), OpQuery, dispatch.Params{"query": "sum by (job)"})
			require.Error(t, err)
			assert.Equal(t, tt.wantClass, dispatch.ClassOf(err))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
		})
	}
}

func TestUnreachableBackendIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := New(dispatch.AdapterConfig{dispatch.ConfigEndpoint: url})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), OpQuery, dispatch.Params{"query": "up"})
	assert.True(t, dispatch.IsRetryable(err))
}

func TestQueryRangeValidation(t *testing.T) {
	a := fakeThanos(t, nil)

	_, err := a.Invoke(context.Background(), OpQueryRange, dispatch.Params{
		"query": "up", "start": "2024-01-02T00:00:00Z", "end": "2024-01-01T00:00:00Z", "step": "1m",
	})
	var perr *dispatch.InvalidParameterError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "end", perr.Param)
}

func TestQueryRange(t *testing.T) {
	var step string
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/query_range": func(w http.ResponseWriter, r *http.Request) {
			step = r.FormValue("step")
			respond(http.StatusOK, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{"job":"api"},"values":[[1700000000,"1"],[1700000060,"2"]]}]}}`)(w, r)
		},
	})

	res, err := a.Invoke(context.Background(), OpQueryRange, dispatch.Params{
		"query": "rate(http_requests_total[5m])", "start": float64(1700000000), "end": float64(1700000060), "step": "1m",
	})
	require.NoError(t, err)
	assert.Equal(t, "60", step)
	assert.Equal(t, "matrix", res.Payload.(map[string]any)["resultType"])
}

func TestListMetrics(t *testing.T) {
	var match string
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/series": func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			match = r.Form.Get("match[]")
			respond(http.StatusOK, `{"status":"success","data":[{"__name__":"up","job":"a"},{"__name__":"go_goroutines","job":"a"},{"__name__":"up","job":"b"}]}`)(w, r)
		},
	})

	res, err := a.Invoke(context.Background(), OpListMetrics, nil)
	require.NoError(t, err)

	assert.Equal(t, allSeries, match)
	payload := res.Payload.(map[string]any)
	assert.Equal(t, []string{"go_goroutines", "up"}, payload["metrics"])
	assert.Equal(t, 2, payload["count"])
}

func TestMetadataAndLabels(t *testing.T) {
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/metadata":         respond(http.StatusOK, `{"status":"success","data":{"up":[{"type":"gauge","help":"Target is up","unit":""}]}}`),
		"/api/v1/labels":           respond(http.StatusOK, `{"status":"success","data":["__name__","job"]}`),
		"/api/v1/label/job/values": respond(http.StatusOK, `{"status":"success","data":["api","db"]}`),
	})

	res, err := a.Invoke(context.Background(), OpGetMetricMetadata, dispatch.Params{"metric": "up"})
	require.NoError(t, err)
	assert.Equal(t, "up is a gauge", res.Summary)

	res, err = a.Invoke(context.Background(), OpExploreLabels, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"__name__", "job"}, res.Payload.(map[string]any)["labels"])

	res, err = a.Invoke(context.Background(), OpExploreLabels, dispatch.Params{"label": "job"})
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "db"}, res.Payload.(map[string]any)["values"])
}

func TestTestConnection(t *testing.T) {
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/-/healthy": respond(http.StatusOK, "Thanos is Healthy."),
	})

	res, err := a.Invoke(context.Background(), OpTestConnection, nil)
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.Payload.(map[string]any)["status"])

	down := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/-/healthy": respond(http.StatusServiceUnavailable, "not ready"),
	})
	err = down.Ping(context.Background())
	assert.True(t, dispatch.IsRetryable(err))
}

func TestAnalyzeTrends(t *testing.T) {
	var step string
	a := fakeThanos(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v1/query_range": func(w http.ResponseWriter, r *http.Request) {
			step = r.FormValue("step")
			respond(http.StatusOK, `{"status":"success","data":{"resultType":"matrix","result":[{"metric":{"job":"api"},"values":[[1,"1"],[2,"2"],[3,"3"],[4,"4"]]}]}}`)(w, r)
		},
	})

	res, err := a.Invoke(context.Background(), OpAnalyzeTrends, dispatch.Params{
		"query": "queue_depth", "duration": "6h", "analysis_type": "trend",
	})
	require.NoError(t, err)

	assert.Equal(t, "60", step)
	payload := res.Payload.(map[string]any)
	series := payload["results"].([]SeriesAnalysis)
	require.Len(t, series, 1)
	assert.Equal(t, TrendIncreasing, series[0].Trend)
	assert.InDelta(t, 1.0, *series[0].Slope, 1e-9)

	_, err = a.Invoke(context.Background(), OpAnalyzeTrends, dispatch.Params{"query": "x", "analysis_type": "forecast"})
	assert.True(t, errors.Is(err, dispatch.ErrInvalidParameter))
}
