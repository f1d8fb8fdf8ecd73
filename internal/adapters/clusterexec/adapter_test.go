package clusterexec

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []Command
	output Output
	err    error
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return Output{}, errors.New("signal: killed")
	}
	return f.output, f.err
}

func (f *fakeRunner) last() Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestAdapter(t *testing.T, cfg dispatch.AdapterConfig, runner *fakeRunner, objects ...runtime.Object) (*Adapter, *fake.Clientset) {
	t.Helper()

	if cfg == nil {
		cfg = dispatch.AdapterConfig{}
	}
	if cfg[ConfigKubeconfigPath] == "" {
		cfg[ConfigKubeconfigPath] = touch(t, filepath.Join(t.TempDir(), "kubeconfig"))
	}

	cs := fake.NewSimpleClientset(objects...)
	a, err := New(cfg, WithClientset(cs), WithRunner(runner))
	require.NoError(t, err)
	return a, cs
}

func TestCapabilityIsValid(t *testing.T) {
	require.NoError(t, Capability().Validate())
	require.NoError(t, Capability().ValidateConfig(dispatch.AdapterConfig{}))
}

func TestNewRejectsUnknownBinary(t *testing.T) {
	_, err := New(dispatch.AdapterConfig{ConfigBinary: "bash"})
	var cerr *dispatch.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Invalid, ConfigBinary)
}

func TestRun(t *testing.T) {
	runner := &fakeRunner{output: Output{Stdout: "NAME   READY\napi-0  1/1"}}
	a, _ := newTestAdapter(t, nil, runner)

	res, err := a.Invoke(context.Background(), OpRun, dispatch.Params{"command": "oc get pods -n monitoring"})
	require.NoError(t, err)

	assert.Equal(t, dispatch.KindData, res.Kind)
	assert.Equal(t, map[string]any{
		"command":   "oc get pods -n monitoring",
		"stdout":    "NAME   READY\napi-0  1/1",
		"stderr":    "",
		"exit_code": 0,
	}, res.Payload)

	cmd := runner.last()
	assert.Equal(t, "oc", cmd.Name)
	assert.Equal(t, []string{"get", "pods", "-n", "monitoring"}, cmd.Args)
	assert.Contains(t, cmd.Env, "KUBECONFIG="+a.kubeconfig.path)
}

func TestRunUsesConfiguredBinary(t *testing.T) {
	runner := &fakeRunner{}
	a, _ := newTestAdapter(t, dispatch.AdapterConfig{ConfigBinary: "kubectl"}, runner)

	_, err := a.Invoke(context.Background(), OpRun, dispatch.Params{"command": "get nodes"})
	require.NoError(t, err)
	assert.Equal(t, "kubectl", runner.last().Name)
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name      string
		runner    *fakeRunner
		command   string
		wantClass string
		wantMsg   string
	}{
		{
			name:      "non-zero exit carries stderr verbatim",
			runner:    &fakeRunner{output: Output{Stderr: `Error from server (NotFound): pods "x" not found`, ExitCode: 1}},
			command:   "oc get pod x",
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   `Error from server (NotFound): pods "x" not found`,
		},
		{
			name:      "non-zero exit without stderr",
			runner:    &fakeRunner{output: Output{ExitCode: 2}},
			command:   "oc get pod x",
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   "oc exited with status 2",
		},
		{
			name:      "binary missing",
			runner:    &fakeRunner{err: &exec.Error{Name: "oc", Err: exec.ErrNotFound}},
			command:   "oc get pods",
			wantClass: dispatch.ClassPermanentAdapter,
			wantMsg:   "oc is not installed",
		},
		{
			name:      "interactive command never runs",
			runner:    &fakeRunner{},
			command:   "oc exec -it api-0 -- sh",
			wantClass: dispatch.ClassInvalidParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAdapter(t, nil, tt.runner)

			_, err := a.Invoke(context.Background(), OpRun, dispatch.Params{"command": tt.command})
			require.Error(t, err)
			assert.Equal(t, tt.wantClass, dispatch.ClassOf(err))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
			if tt.wantClass == dispatch.ClassInvalidParameter {
				assert.Empty(t, tt.runner.calls)
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	a, _ := newTestAdapter(t, dispatch.AdapterConfig{dispatch.ConfigTimeout: "50ms"}, runner)

	start := time.Now()
	_, err := a.Invoke(context.Background(), OpRun, dispatch.Params{"command": "oc adm top nodes"})
	require.Error(t, err)
	assert.True(t, dispatch.IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func pod(ns, name, phase string, ready bool, restarts int32, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name, Labels: labels},
		Spec: corev1.PodSpec{
			NodeName:   "worker-1",
			Containers: []corev1.Container{{Name: "main"}},
		},
		Status: corev1.PodStatus{
			Phase:             corev1.PodPhase(phase),
			ContainerStatuses: []corev1.ContainerStatus{{Name: "main", Ready: ready, RestartCount: restarts}},
		},
	}
}

func TestGetPods(t *testing.T) {
	a, _ := newTestAdapter(t, nil, &fakeRunner{},
		pod("monitoring", "thanos-query-0", "Running", true, 0, map[string]string{"app": "thanos"}),
		pod("monitoring", "alertmanager-0", "Pending", false, 3, map[string]string{"app": "alertmanager"}),
		pod("logging", "es-0", "Running", true, 1, map[string]string{"app": "es"}),
	)

	res, err := a.Invoke(context.Background(), OpGetPods, nil)
	require.NoError(t, err)
	pods := res.Payload.(map[string]any)["pods"].([]PodSummary)
	require.Len(t, pods, 3)
	assert.Equal(t, "es-0", pods[0].Name)
	assert.Equal(t, "alertmanager-0", pods[1].Name)
	assert.Equal(t, "0/1", pods[1].Ready)
	assert.Equal(t, int32(3), pods[1].Restarts)
	assert.Equal(t, "3 pods, 1 not running", res.Summary)

	res, err = a.Invoke(context.Background(), OpGetPods, dispatch.Params{"namespace": "monitoring", "selector": "app=thanos"})
	require.NoError(t, err)
	pods = res.Payload.(map[string]any)["pods"].([]PodSummary)
	require.Len(t, pods, 1)
	assert.Equal(t, PodSummary{
		Name: "thanos-query-0", Namespace: "monitoring", Phase: "Running", Ready: "1/1", Node: "worker-1",
	}, pods[0])
}

func TestGetEvents(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := func(name, typ, reason string, at time.Time) *corev1.Event {
		return &corev1.Event{
			ObjectMeta:     metav1.ObjectMeta{Namespace: "monitoring", Name: name},
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "alertmanager-0"},
			Type:           typ,
			Reason:         reason,
			Message:        reason + " happened",
			Count:          1,
			LastTimestamp:  metav1.NewTime(at),
		}
	}

	a, _ := newTestAdapter(t, nil, &fakeRunner{},
		event("e2", corev1.EventTypeWarning, "BackOff", base.Add(time.Minute)),
		event("e1", corev1.EventTypeNormal, "Scheduled", base),
	)

	res, err := a.Invoke(context.Background(), OpGetEvents, dispatch.Params{"namespace": "monitoring"})
	require.NoError(t, err)

	events := res.Payload.(map[string]any)["events"].([]EventSummary)
	require.Len(t, events, 2)
	assert.Equal(t, "Scheduled", events[0].Reason)
	assert.Equal(t, "BackOff", events[1].Reason)
	assert.Equal(t, "pod/alertmanager-0", events[1].Object)
	assert.Equal(t, "2 events, 1 warnings", res.Summary)
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass string
	}{
		{"forbidden", apierrors.NewForbidden(schema.GroupResource{Resource: "pods"}, "", errors.New("no access")), dispatch.ClassPermanentAdapter},
		{"throttled", apierrors.NewTooManyRequests("slow down", 1), dispatch.ClassTransientAdapter},
		{"unavailable", apierrors.NewServiceUnavailable("etcd down"), dispatch.ClassTransientAdapter},
		{"internal", apierrors.NewInternalError(errors.New("boom")), dispatch.ClassTransientAdapter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, cs := newTestAdapter(t, nil, &fakeRunner{})
			cs.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
				return true, nil, tt.err
			})

			_, err := a.Invoke(context.Background(), OpGetPods, nil)
			assert.Equal(t, tt.wantClass, dispatch.ClassOf(err))
		})
	}
}

func TestTestConnection(t *testing.T) {
	a, cs := newTestAdapter(t, nil, &fakeRunner{})
	cs.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.31.2", Platform: "linux/amd64"}

	res, err := a.Invoke(context.Background(), OpTestConnection, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1.31.2", res.Payload.(map[string]any)["git_version"])
	assert.Equal(t, "Connected to Kubernetes v1.31.2", res.Summary)
	assert.NoError(t, a.Ping(context.Background()))
}

func TestTestConnectionAgainstAPIServer(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		budget    time.Duration
		wantClass string
		timeout   bool
	}{
		{
			name: "version",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"gitVersion":"v1.31.2","platform":"linux/amd64"}`))
			},
			budget: 5 * time.Second,
		},
		{
			name: "hanging server honors the budget",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(3 * time.Second):
				}
			},
			budget:    100 * time.Millisecond,
			wantClass: dispatch.ClassTransientAdapter,
			timeout:   true,
		},
		{
			name: "undecodable version",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"gitVersion":`))
			},
			budget:    5 * time.Second,
			wantClass: dispatch.ClassProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			cs, err := kubernetes.NewForConfig(&rest.Config{Host: srv.URL})
			require.NoError(t, err)

			cfg := dispatch.AdapterConfig{ConfigKubeconfigPath: touch(t, filepath.Join(t.TempDir(), "kubeconfig"))}
			a, err := New(cfg, WithClientset(cs), WithRunner(&fakeRunner{}))
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), tt.budget)
			defer cancel()

			start := time.Now()
			res, err := a.Invoke(ctx, OpTestConnection, nil)
			assert.Less(t, time.Since(start), 2*time.Second)

			if tt.wantClass == "" {
				require.NoError(t, err)
				assert.Equal(t, "v1.31.2", res.Payload.(map[string]any)["git_version"])
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantClass, dispatch.ClassOf(err))
			assert.Equal(t, tt.timeout, dispatch.IsTimeout(err))
		})
	}
}

func TestCloseRemovesSynthesizedKubeconfig(t *testing.T) {
	fakeHome(t, "", t.TempDir())

	a, err := New(dispatch.AdapterConfig{
		dispatch.ConfigEndpoint:      "https://api.example.com:6443",
		dispatch.ConfigCredentialRef: "token",
	}, WithClientset(fake.NewSimpleClientset()), WithRunner(&fakeRunner{}))
	require.NoError(t, err)

	path := a.kubeconfig.path
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, a.Close(context.Background()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNewBuildsClientsetFromKubeconfig(t *testing.T) {
	fakeHome(t, "", t.TempDir())

	a, err := New(dispatch.AdapterConfig{
		dispatch.ConfigEndpoint:      "https://api.example.com:6443",
		dispatch.ConfigCredentialRef: "token",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	assert.NotNil(t, a.clientset)
}
