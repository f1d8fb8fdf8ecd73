package dispatch

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Recognized adapter configuration keys.
const (
	ConfigEndpoint      = "endpoint"
	ConfigCredentialRef = "credential_ref"
	ConfigTimeout       = "timeout"
	ConfigSSLVerify     = "ssl_verify"
)

// Credential reference schemes.
const (
	credentialEnvPrefix  = "env:"
	credentialFilePrefix = "file:"
)

// For mocking in tests
var (
	lookupEnv = os.LookupEnv
	readFile  = os.ReadFile
)

// AdapterConfig is the opaque key/value connection configuration of one
// capability. How secrets are stored is outside its concern: credential_ref
// points at them.
type AdapterConfig map[string]string

// Get returns the trimmed value for key.
func (c AdapterConfig) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// Endpoint returns the configured endpoint URL.
func (c AdapterConfig) Endpoint() string {
	return strings.TrimRight(c.Get(ConfigEndpoint), "/")
}

// CredentialRef returns the raw credential reference.
func (c AdapterConfig) CredentialRef() string {
	return c.Get(ConfigCredentialRef)
}

// Timeout returns the configured timeout, or def if unset or unparseable.
func (c AdapterConfig) Timeout(def time.Duration) time.Duration {
	d, err := parseTimeout(c.Get(ConfigTimeout))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SSLVerify reports whether TLS certificates should be verified. Defaults to true.
func (c AdapterConfig) SSLVerify() bool {
	return c.Bool(ConfigSSLVerify, true)
}

// Bool returns a boolean option, or def if unset or unparseable.
func (c AdapterConfig) Bool(key string, def bool) bool {
	v := c.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// List returns a comma separated option as a slice.
func (c AdapterConfig) List(key string) []string {
	var out []string
	for _, part := range strings.Split(c.Get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResolveCredential dereferences credential_ref. "env:NAME" reads an
// environment variable, "file:/path" reads a file, anything else is used as is.
// An empty reference resolves to "".
func (c AdapterConfig) ResolveCredential() (string, error) {
	return ResolveSecret(c.CredentialRef())
}

// ResolveSecret dereferences a credential reference.
func ResolveSecret(ref string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, credentialEnvPrefix):
		name := strings.TrimPrefix(ref, credentialEnvPrefix)
		v, ok := lookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("credential environment variable %s is not set", name)
		}
		return v, nil
	case strings.HasPrefix(ref, credentialFilePrefix):
		path := strings.TrimPrefix(ref, credentialFilePrefix)
		data, err := readFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read credential file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return ref, nil
}

// Clone returns a copy of the configuration.
func (c AdapterConfig) Clone() AdapterConfig {
	out := make(AdapterConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Equal reports whether both configurations hold the same keys and values.
func (c AdapterConfig) Equal(other AdapterConfig) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// check validates the recognized keys and returns invalid field reasons.
func (c AdapterConfig) check() map[string]string {
	invalid := map[string]string{}
	if ep := c.Get(ConfigEndpoint); ep != "" {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			invalid[ConfigEndpoint] = "must be an absolute URL"
		}
	}
	if t := c.Get(ConfigTimeout); t != "" {
		if d, err := parseTimeout(t); err != nil || d <= 0 {
			invalid[ConfigTimeout] = "must be a positive duration"
		}
	}
	if v := c.Get(ConfigSSLVerify); v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			invalid[ConfigSSLVerify] = "must be true or false"
		}
	}
	if ref := c.CredentialRef(); ref != "" {
		if _, err := ResolveSecret(ref); err != nil {
			invalid[ConfigCredentialRef] = err.Error()
		}
	}
	return invalid
}

// parseTimeout accepts Go durations and bare seconds.
func parseTimeout(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
