package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

type stubAdapter struct {
	closed atomic.Bool
	pinged atomic.Int32
}

func (s *stubAdapter) Invoke(_ context.Context, _ string, _ dispatch.Params) (*dispatch.Result, error) {
	if s.closed.Load() {
		return nil, errors.New("invoked after close")
	}
	return dispatch.Data(map[string]any{"value": 42}, "ok"), nil
}

func (s *stubAdapter) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *stubAdapter) Ping(context.Context) error {
	s.pinged.Add(1)
	return nil
}

type mockRecorder struct {
	mu        sync.Mutex
	bindings  int
	teardowns []string
	undrained int
}

func (m *mockRecorder) SetBindings(_ context.Context, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = count
}

func (m *mockRecorder) RecordTeardown(_ context.Context, capability, reason string, drained bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardowns = append(m.teardowns, capability+":"+reason)
	if !drained {
		m.undrained++
	}
}

func (m *mockRecorder) snapshot() (int, []string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindings, append([]string(nil), m.teardowns...), m.undrained
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCapability(name string, ops ...string) dispatch.Capability {
	c := dispatch.Capability{
		Name:   name,
		Config: []dispatch.ConfigField{{Name: dispatch.ConfigEndpoint, Required: true}},
	}
	for _, op := range ops {
		c.Operations = append(c.Operations, dispatch.OperationSpec{Name: op})
	}
	return c
}

func stubFactory(adapters *[]*stubAdapter) dispatch.Factory {
	var mu sync.Mutex
	return func(dispatch.AdapterConfig) (dispatch.Adapter, error) {
		a := &stubAdapter{}
		mu.Lock()
		*adapters = append(*adapters, a)
		mu.Unlock()
		return a, nil
	}
}

var validConfig = dispatch.AdapterConfig{dispatch.ConfigEndpoint: "http://backend:9090"}

func TestRegisterAndResolve(t *testing.T) {
	var adapters []*stubAdapter
	recorder := &mockRecorder{}
	r := New(WithLogger(testLogger()), WithMetrics(recorder))

	id, err := r.Register(testCapability("metric-query", "instant", "query_range"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	b, err := r.Resolve("metric-query")
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
	assert.True(t, b.Capability.Supports("instant"))
	assert.False(t, b.Capability.Supports("search"))
	assert.Equal(t, "http://backend:9090", b.Config.Endpoint())

	_, err = r.Resolve("log-search")
	var unknown *dispatch.UnknownCapabilityError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "log-search", unknown.Name)

	count, _, _ := recorder.snapshot()
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterConfigurationErrors(t *testing.T) {
	r := New(WithLogger(testLogger()))
	var adapters []*stubAdapter

	t.Run("missing required field", func(t *testing.T) {
		_, err := r.Register(testCapability("metric-query", "instant"), stubFactory(&adapters), dispatch.AdapterConfig{
			dispatch.ConfigTimeout: "-5s",
		})
		var cerr *dispatch.ConfigurationError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, []string{dispatch.ConfigEndpoint}, cerr.Missing)
		assert.Contains(t, cerr.Invalid, dispatch.ConfigTimeout)
	})

	t.Run("factory failure", func(t *testing.T) {
		failing := func(dispatch.AdapterConfig) (dispatch.Adapter, error) {
			return nil, errors.New("bad certificate bundle")
		}
		_, err := r.Register(testCapability("log-search", "search"), failing, validConfig)
		assert.True(t, errors.Is(err, dispatch.ErrConfiguration))
		assert.Contains(t, err.Error(), "bad certificate bundle")
	})

	t.Run("invalid capability", func(t *testing.T) {
		_, err := r.Register(testCapability("empty"), stubFactory(&adapters), validConfig)
		assert.True(t, errors.Is(err, dispatch.ErrConfiguration))
	})

	assert.Empty(t, adapters)
	assert.Equal(t, 0, r.Len())
}

func TestHotReplaceTearsDownOldAdapter(t *testing.T) {
	var adapters []*stubAdapter
	recorder := &mockRecorder{}
	r := New(WithLogger(testLogger()), WithMetrics(recorder), WithGracePeriod(time.Second))

	firstID, err := r.Register(testCapability("log-search", "search"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)

	inflight, err := r.Acquire("log-search")
	require.NoError(t, err)

	secondID, err := r.Register(testCapability("log-search", "search", "esql"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	current, err := r.Resolve("log-search")
	require.NoError(t, err)
	assert.Equal(t, secondID, current.ID)
	assert.True(t, current.Capability.Supports("esql"))

	// The in-flight call on the old binding still completes.
	res, err := inflight.Adapter.Invoke(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, adapters[0].closed.Load())

	inflight.Release()
	require.Eventually(t, adapters[0].closed.Load, time.Second, 5*time.Millisecond)
	assert.False(t, adapters[1].closed.Load())

	require.Eventually(t, func() bool {
		_, teardowns, _ := recorder.snapshot()
		return len(teardowns) == 1
	}, time.Second, 5*time.Millisecond)
	_, teardowns, undrained := recorder.snapshot()
	assert.Equal(t, []string{"log-search:" + ReasonReplaced}, teardowns)
	assert.Zero(t, undrained)
}

func TestDeregister(t *testing.T) {
	var adapters []*stubAdapter
	r := New(WithLogger(testLogger()), WithGracePeriod(20*time.Millisecond))

	_, err := r.Register(testCapability("cluster-exec", "run"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)

	held, err := r.Acquire("cluster-exec")
	require.NoError(t, err)

	require.NoError(t, r.Deregister("cluster-exec"))
	_, err = r.Resolve("cluster-exec")
	assert.True(t, errors.Is(err, dispatch.ErrUnknownCapability))
	_, err = r.Acquire("cluster-exec")
	assert.True(t, errors.Is(err, dispatch.ErrUnknownCapability))

	// The grace period bounds the wait even if the holder never releases.
	require.Eventually(t, adapters[0].closed.Load, time.Second, 5*time.Millisecond)
	held.Release()

	err = r.Deregister("cluster-exec")
	assert.True(t, errors.Is(err, dispatch.ErrUnknownCapability))
}

func TestOperationIndex(t *testing.T) {
	var adapters []*stubAdapter
	r := New(WithLogger(testLogger()))

	_, err := r.Register(testCapability("log-search", "search", "test_connection"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)
	_, err = r.Register(testCapability("metric-query", "instant", "test_connection"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)

	assert.Equal(t, []string{"log-search", "metric-query"}, r.OperationIndex("test_connection"))
	assert.Equal(t, []string{"metric-query"}, r.OperationIndex("instant"))
	assert.Empty(t, r.OperationIndex("nope"))

	assert.Equal(t, []string{"log-search", "metric-query"}, r.Names())
	caps := r.Capabilities()
	require.Len(t, caps, 2)
	assert.Equal(t, "log-search", caps[0].Name)

	infos := r.Bindings()
	require.Len(t, infos, 2)
	assert.Equal(t, []string{"instant", "test_connection"}, infos[1].Operations)
	assert.Equal(t, "http://backend:9090", infos[1].Endpoint)
}

func TestPing(t *testing.T) {
	var adapters []*stubAdapter
	r := New(WithLogger(testLogger()))

	_, err := r.Register(testCapability("metric-query", "instant"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)

	require.NoError(t, r.Ping(context.Background(), "metric-query"))
	assert.Equal(t, int32(1), adapters[0].pinged.Load())
	assert.Error(t, r.Ping(context.Background(), "log-search"))
}

func TestConcurrentRegisterAndResolve(t *testing.T) {
	var adapters []*stubAdapter
	r := New(WithLogger(testLogger()), WithGracePeriod(50*time.Millisecond))
	factory := stubFactory(&adapters)

	_, err := r.Register(testCapability("metric-query", "instant"), factory, validConfig)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				b, err := r.Acquire("metric-query")
				if err != nil {
					failures.Add(1)
					continue
				}
				if _, err := b.Adapter.Invoke(ctx, "instant", nil); err != nil {
					failures.Add(1)
				}
				b.Release()
			}
		}()
	}

	for ctx.Err() == nil {
		_, err := r.Register(testCapability("metric-query", "instant"), factory, validConfig)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
}

func TestClose(t *testing.T) {
	var adapters []*stubAdapter
	recorder := &mockRecorder{}
	r := New(WithLogger(testLogger()), WithMetrics(recorder))

	_, err := r.Register(testCapability("metric-query", "instant"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)
	_, err = r.Register(testCapability("log-search", "search"), stubFactory(&adapters), validConfig)
	require.NoError(t, err)

	require.NoError(t, r.Close(context.Background()))
	for _, a := range adapters {
		assert.True(t, a.closed.Load())
	}
	assert.Equal(t, 0, r.Len())

	_, err = r.Register(testCapability("metric-query", "instant"), stubFactory(&adapters), validConfig)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, adapters[len(adapters)-1].closed.Load())

	count, teardowns, _ := recorder.snapshot()
	assert.Zero(t, count)
	assert.Len(t, teardowns, 2)

	// Closing twice is a no-op.
	require.NoError(t, r.Close(context.Background()))
}
