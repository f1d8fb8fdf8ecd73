package clusterexec

import "github.com/giantswarm/mcp-dispatch/internal/dispatch"

// Kind is the catalog name of the cluster-exec adapter.
const Kind = "cluster-exec"

// Operation names.
const (
	OpRun            = "run"
	OpGetPods        = "get_pods"
	OpGetEvents      = "get_events"
	OpTestConnection = "test_connection"
)

// Configuration keys beyond the common ones.
const (
	ConfigKubeconfigPath = "kubeconfig_path"
	ConfigUsername       = "username"
	ConfigPassword       = "password"
	ConfigBinary         = "binary"
	ConfigNonDestructive = "non_destructive"
	ConfigRedactSecrets  = "redact_secrets"
)

// Capability describes command execution and read access against a
// Kubernetes or OpenShift cluster.
func Capability() dispatch.Capability {
	return dispatch.Capability{
		Name:        Kind,
		Description: "oc/kubectl commands and pod and event listings against a Kubernetes or OpenShift cluster",
		Operations: []dispatch.OperationSpec{
			{
				Name:        OpRun,
				Description: "Run a non-interactive oc or kubectl command line",
				Params: []dispatch.ParamSpec{
					{Name: "command", Type: dispatch.ParamString, Required: true, Description: `For example "oc get pods -n openshift-monitoring"`},
				},
			},
			{
				Name:        OpGetPods,
				Description: "Pods with phase, readiness and restarts",
				Params: []dispatch.ParamSpec{
					{Name: "namespace", Type: dispatch.ParamString, Description: "Defaults to all namespaces"},
					{Name: "selector", Type: dispatch.ParamString, Description: "Label selector"},
				},
			},
			{
				Name:        OpGetEvents,
				Description: "Events ordered by last occurrence",
				Params: []dispatch.ParamSpec{
					{Name: "namespace", Type: dispatch.ParamString, Description: "Defaults to all namespaces"},
				},
			},
			{Name: OpTestConnection, Description: "API server version"},
		},
		Config: []dispatch.ConfigField{
			{Name: ConfigKubeconfigPath, Description: "Kubeconfig file, before $KUBECONFIG and ~/.kube/config"},
			{Name: dispatch.ConfigEndpoint, Description: "API server URL used when no kubeconfig file is found"},
			{Name: dispatch.ConfigCredentialRef, Description: "Bearer token reference for the synthesized kubeconfig"},
			{Name: ConfigUsername, Description: "Basic auth user for the synthesized kubeconfig"},
			{Name: ConfigPassword, Description: "Basic auth password reference for the synthesized kubeconfig"},
			{Name: ConfigBinary, Description: "oc (default) or kubectl"},
			{Name: ConfigNonDestructive, Description: "Refuse mutating commands (default false)"},
			{Name: ConfigRedactSecrets, Description: "Mask Secret data in JSON and YAML command output (default true)"},
			{Name: dispatch.ConfigTimeout, Description: "Command timeout (default 60s)"},
			{Name: dispatch.ConfigSSLVerify, Description: "Verify the API server certificate (default true)"},
		},
	}
}
