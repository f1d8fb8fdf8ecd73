package clusterexec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
)

// Names used in a synthesized kubeconfig.
const (
	synthesizedCluster = "configured-cluster"
	synthesizedUser    = "configured-user"
	synthesizedContext = "configured-context"
)

// For mocking in tests
var (
	statFile    = os.Stat
	userHomeDir = os.UserHomeDir
	getenv      = os.Getenv
)

// kubeconfig is the resolved kubeconfig file of an adapter.
type kubeconfig struct {
	path string

	// synthesized files are removed on Close.
	synthesized bool
}

// resolveKubeconfig picks the first existing kubeconfig from the configured
// path, $KUBECONFIG and ~/.kube/config, and otherwise writes one from the
// endpoint and credentials.
func resolveKubeconfig(cfg dispatch.AdapterConfig) (kubeconfig, error) {
	candidates := []string{cfg.Get(ConfigKubeconfigPath), getenv("KUBECONFIG")}
	if home, err := userHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".kube", "config"))
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		path := expandHome(c)
		if _, err := statFile(path); err == nil {
			return kubeconfig{path: path}, nil
		}
	}

	if cfg.Endpoint() == "" {
		return kubeconfig{}, &dispatch.ConfigurationError{
			Capability: Kind,
			Err:        fmt.Errorf("no kubeconfig found and no %s to build one from", dispatch.ConfigEndpoint),
		}
	}
	path, err := synthesize(cfg)
	if err != nil {
		return kubeconfig{}, err
	}
	return kubeconfig{path: path, synthesized: true}, nil
}

// synthesize writes a single-context kubeconfig for the configured endpoint.
func synthesize(cfg dispatch.AdapterConfig) (string, error) {
	auth := clientcmdapi.NewAuthInfo()

	token, err := cfg.ResolveCredential()
	if err != nil {
		return "", &dispatch.ConfigurationError{Capability: Kind, Invalid: map[string]string{dispatch.ConfigCredentialRef: err.Error()}}
	}
	switch {
	case token != "":
		auth.Token = token
	case cfg.Get(ConfigUsername) != "":
		password, err := dispatch.ResolveSecret(cfg.Get(ConfigPassword))
		if err != nil {
			return "", &dispatch.ConfigurationError{Capability: Kind, Invalid: map[string]string{ConfigPassword: err.Error()}}
		}
		auth.Username = cfg.Get(ConfigUsername)
		auth.Password = password
	}

	cluster := clientcmdapi.NewCluster()
	cluster.Server = cfg.Endpoint()
	cluster.InsecureSkipTLSVerify = !cfg.SSLVerify()

	kctx := clientcmdapi.NewContext()
	kctx.Cluster = synthesizedCluster
	kctx.AuthInfo = synthesizedUser
	kctx.Namespace = "default"

	kc := clientcmdapi.NewConfig()
	kc.Clusters[synthesizedCluster] = cluster
	kc.AuthInfos[synthesizedUser] = auth
	kc.Contexts[synthesizedContext] = kctx
	kc.CurrentContext = synthesizedContext

	f, err := os.CreateTemp("", "mcp-dispatch-kubeconfig-*.yaml")
	if err != nil {
		return "", &dispatch.ConfigurationError{Capability: Kind, Err: err}
	}
	path := f.Name()
	_ = f.Close()

	if err := clientcmd.WriteToFile(*kc, path); err != nil {
		_ = os.Remove(path)
		return "", &dispatch.ConfigurationError{Capability: Kind, Err: fmt.Errorf("write kubeconfig: %w", err)}
	}
	return path, nil
}

// restConfig loads the current context of the kubeconfig.
func (k kubeconfig) restConfig(sslVerify bool) (*rest.Config, error) {
	rc, err := clientcmd.BuildConfigFromFlags("", k.path)
	if err != nil {
		return nil, &dispatch.ConfigurationError{Capability: Kind, Err: fmt.Errorf("load kubeconfig %s: %w", k.path, err)}
	}
	if !sslVerify {
		rc.Insecure = true
		rc.CAData = nil
		rc.CAFile = ""
	}
	return rc, nil
}

func (k kubeconfig) remove() error {
	if !k.synthesized {
		return nil
	}
	if err := os.Remove(k.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := userHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
