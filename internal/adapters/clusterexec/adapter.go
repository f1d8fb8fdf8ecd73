// Package clusterexec implements the cluster-exec adapter: oc/kubectl command
// execution plus pod and event listings through client-go.
package clusterexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/kubernetes"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// DefaultTimeout bounds a command or API call when the config sets none.
const DefaultTimeout = 60 * time.Second

// DefaultBinary is prepended to command lines that do not name oc or kubectl.
const DefaultBinary = "oc"

// Adapter runs commands and read-only queries against one cluster.
type Adapter struct {
	kubeconfig     kubeconfig
	clientset      kubernetes.Interface
	runner         CommandRunner
	binary         string
	nonDestructive bool
	redactSecrets  bool
	timeout        time.Duration
}

var (
	_ dispatch.Adapter = (*Adapter)(nil)
	_ dispatch.Pinger  = (*Adapter)(nil)
	_ dispatch.Closer  = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithClientset uses cs instead of building a clientset from the kubeconfig.
func WithClientset(cs kubernetes.Interface) Option {
	return func(a *Adapter) {
		a.clientset = cs
	}
}

// WithRunner replaces the process runner.
func WithRunner(r CommandRunner) Option {
	return func(a *Adapter) {
		a.runner = r
	}
}

// New creates an adapter from cfg.
func New(cfg dispatch.AdapterConfig, opts ...Option) (*Adapter, error) {
	binary := cfg.Get(ConfigBinary)
	if binary == "" {
		binary = DefaultBinary
	}
	if !allowedBinaries[binary] {
		return nil, &dispatch.ConfigurationError{
			Capability: Kind,
			Invalid:    map[string]string{ConfigBinary: "must be oc or kubectl"},
		}
	}

	kc, err := resolveKubeconfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		kubeconfig:     kc,
		runner:         ExecRunner{},
		binary:         binary,
		nonDestructive: cfg.Bool(ConfigNonDestructive, false),
		redactSecrets:  cfg.Bool(ConfigRedactSecrets, true),
		timeout:        cfg.Timeout(DefaultTimeout),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.clientset == nil {
		rc, err := kc.restConfig(cfg.SSLVerify())
		if err != nil {
			_ = kc.remove()
			return nil, err
		}
		rc.Timeout = a.timeout
		cs, err := kubernetes.NewForConfig(rc)
		if err != nil {
			_ = kc.remove()
			return nil, &dispatch.ConfigurationError{Capability: Kind, Err: err}
		}
		a.clientset = cs
	}
	return a, nil
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
	case OpRun:
		return a.run(ctx, params)
	case OpGetPods:
		return a.getPods(ctx, params)
	case OpGetEvents:
		return a.getEvents(ctx, params)
	case OpTestConnection:
		return a.testConnection(ctx)
	}
	return nil, &dispatch.UnsupportedOperationError{Capability: Kind, Operation: op}
}

// Ping asks the API server for its version.
func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.serverVersion(ctx)
	return err
}

// Close removes a synthesized kubeconfig.
func (a *Adapter) Close(_ context.Context) error {
	return a.kubeconfig.remove()
}

func (a *Adapter) run(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	line, err := params.RequiredString("command")
	if err != nil {
		return nil, err
	}
	binary, args, err := parseCommand(line, a.binary, a.nonDestructive)
	if err != nil {
		return nil, err
	}

	out, err := a.runner.Run(ctx, Command{
		Name: binary,
		Args: args,
		Env:  append(os.Environ(), "KUBECONFIG="+a.kubeconfig.path),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, dispatch.NewTimeoutError(ctx.Err())
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, dispatch.NewPermanentError(fmt.Sprintf("%s is not installed", binary))
		}
		return nil, dispatch.Classify(err)
	}

	if out.ExitCode != 0 {
		msg := out.Stderr
		if msg == "" {
			msg = fmt.Sprintf("%s exited with status %d", binary, out.ExitCode)
		}
		return nil, dispatch.NewPermanentError(msg)
	}

	stdout := out.Stdout
	redacted := false
	if a.redactSecrets {
		stdout, redacted = redactOutput(stdout)
	}

	payload := map[string]any{
		"command":   strings.Join(append([]string{binary}, args...), " "),
		"stdout":    stdout,
		"stderr":    out.Stderr,
		"exit_code": out.ExitCode,
	}
	if redacted {
		payload["redacted"] = true
	}
	v, _, _ := verbs(args)
	return dispatch.Data(payload, fmt.Sprintf("%s %s succeeded", binary, v)), nil
}

// PodSummary is the condensed view of a pod returned by get_pods.
type PodSummary struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Phase     string `json:"phase"`
	Ready     string `json:"ready"`
	Restarts  int32  `json:"restarts"`
	Node      string `json:"node,omitempty"`
}

func (a *Adapter) getPods(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	namespace, err := params.String("namespace")
	if err != nil {
		return nil, err
	}
	selector, err := params.String("selector")
	if err != nil {
		return nil, err
	}

	list, err := a.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, classify(err)
	}

	pods := make([]PodSummary, 0, len(list.Items))
	notRunning := 0
	for _, p := range list.Items {
		s := summarizePod(p)
		if s.Phase != string(corev1.PodRunning) && s.Phase != string(corev1.PodSucceeded) {
			notRunning++
		}
		pods = append(pods, s)
	}
	sort.Slice(pods, func(i, j int) bool {
		if pods[i].Namespace != pods[j].Namespace {
			return pods[i].Namespace < pods[j].Namespace
		}
		return pods[i].Name < pods[j].Name
	})

	return dispatch.Data(map[string]any{"pods": pods, "count": len(pods)},
		fmt.Sprintf("%d pods, %d not running", len(pods), notRunning)), nil
}

func summarizePod(p corev1.Pod) PodSummary {
	var ready int
	var restarts int32
	for _, cs := range p.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	return PodSummary{
		Name:      p.Name,
		Namespace: p.Namespace,
		Phase:     string(p.Status.Phase),
		Ready:     fmt.Sprintf("%d/%d", ready, len(p.Spec.Containers)),
		Restarts:  restarts,
		Node:      p.Spec.NodeName,
	}
}

// EventSummary is the condensed view of an event returned by get_events.
type EventSummary struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Object   string    `json:"object"`
	Message  string    `json:"message"`
	Count    int32     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

func (a *Adapter) getEvents(ctx context.Context, params dispatch.Params) (*dispatch.Result, error) {
	namespace, err := params.String("namespace")
	if err != nil {
		return nil, err
	}

	list, err := a.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify(err)
	}

	events := make([]EventSummary, 0, len(list.Items))
	warnings := 0
	for _, e := range list.Items {
		if e.Type == corev1.EventTypeWarning {
			warnings++
		}
		events = append(events, EventSummary{
			Type:     e.Type,
			Reason:   e.Reason,
			Object:   fmt.Sprintf("%s/%s", strings.ToLower(e.InvolvedObject.Kind), e.InvolvedObject.Name),
			Message:  e.Message,
			Count:    e.Count,
			LastSeen: lastSeen(e),
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].LastSeen.Before(events[j].LastSeen)
	})

	return dispatch.Data(map[string]any{"events": events, "count": len(events)},
		fmt.Sprintf("%d events, %d warnings", len(events), warnings)), nil
}

func lastSeen(e corev1.Event) time.Time {
	switch {
	case !e.LastTimestamp.IsZero():
		return e.LastTimestamp.Time
	case !e.EventTime.IsZero():
		return e.EventTime.Time
	}
	return e.CreationTimestamp.Time
}

func (a *Adapter) testConnection(ctx context.Context) (*dispatch.Result, error) {
	v, err := a.serverVersion(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"git_version": v.GitVersion,
		"platform":    v.Platform,
		"kubeconfig":  a.kubeconfig.path,
	}
	return dispatch.Data(payload, fmt.Sprintf("Connected to Kubernetes %s", v.GitVersion)), nil
}

// serverVersion fetches /version under ctx.
func (a *Adapter) serverVersion(ctx context.Context) (*version.Info, error) {
	rc := a.clientset.Discovery().RESTClient()
	if rc == nil {
		v, err := a.clientset.Discovery().ServerVersion()
		return v, classify(err)
	}

	body, err := rc.Get().AbsPath("/version").Do(ctx).Raw()
	if err != nil {
		if ctx.Err() != nil {
			return nil, dispatch.NewTimeoutError(ctx.Err())
		}
		return nil, classify(err)
	}
	var info version.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, dispatch.NewProtocolError("unable to parse the server version", err)
	}
	return &info, nil
}

// classify maps API server failures onto the error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsTooManyRequests(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return dispatch.NewTransientError("", err)
	case apierrors.IsNotFound(err),
		apierrors.IsForbidden(err),
		apierrors.IsUnauthorized(err),
		apierrors.IsBadRequest(err),
		apierrors.IsInvalid(err):
		return dispatch.NewPermanentError(err.Error())
	}
	return dispatch.Classify(err)
}
