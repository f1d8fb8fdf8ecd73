package clusterexec

import (
	"bytes"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"
)

// RedactedValue replaces secret values in command output.
const RedactedValue = "***REDACTED***"

// sensitiveAnnotations carry secret material or service account identity.
var sensitiveAnnotations = map[string]bool{
	"kubectl.kubernetes.io/last-applied-configuration": true,
	"kubernetes.io/service-account.uid":                true,
	"kubernetes.io/service-account.name":               true,
	"kubernetes.io/service-account-token":              true,
}

// redactOutput masks Secret data in JSON or YAML command output. Output
// without a Secret in it, and output in any other format, is returned as is.
func redactOutput(stdout string) (string, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return stdout, false
	}

	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil || !maskObject(obj) {
			return stdout, false
		}
		data, err := json.MarshalIndent(obj, "", "    ")
		if err != nil {
			return stdout, false
		}
		return string(data) + "\n", true
	}

	if !strings.Contains(trimmed, "kind:") {
		return stdout, false
	}
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(trimmed), &obj); err != nil || !maskObject(obj) {
		return stdout, false
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(obj); err != nil {
		return stdout, false
	}
	_ = enc.Close()
	return buf.String(), true
}

// maskObject masks obj in place when it is a Secret or a list holding
// Secrets, and reports whether anything was masked.
func maskObject(obj map[string]any) bool {
	if obj == nil {
		return false
	}

	masked := false
	if items, ok := obj["items"].([]any); ok {
		for _, item := range items {
			if m, ok := item.(map[string]any); ok && maskObject(m) {
				masked = true
			}
		}
	}

	kind, _ := obj["kind"].(string)
	if !strings.EqualFold(kind, "Secret") {
		return masked
	}

	for _, field := range []string{"data", "stringData"} {
		if data, ok := obj[field].(map[string]any); ok {
			for key := range data {
				data[key] = RedactedValue
			}
		}
	}
	if metadata, ok := obj["metadata"].(map[string]any); ok {
		if annotations, ok := metadata["annotations"].(map[string]any); ok {
			for key := range annotations {
				if sensitiveAnnotations[key] {
					annotations[key] = RedactedValue
				}
			}
		}
	}
	return true
}
