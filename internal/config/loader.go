package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var (
	readFile  = os.ReadFile
	lookupEnv = os.LookupEnv
)

// placeholder matches ${VAR}. A bare $VAR is left alone so that PromQL and
// regular expressions in capability configs survive.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses the capabilities file at path.
func Load(path string) (*File, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capabilities file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid capabilities file %s: %w", path, err)
	}
	return f, nil
}

// Parse expands ${VAR} placeholders and decodes a capabilities file.
// Unknown keys are rejected. An empty document yields an empty File.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(expand(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return &f, nil
}

// expand replaces ${VAR} with the value of VAR, or "" when unset.
func expand(data []byte) []byte {
	return placeholder.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(placeholder.FindSubmatch(m)[1])
		v, _ := lookupEnv(name)
		return []byte(v)
	})
}

// normalize defaults names and rejects file-level mistakes. Problems that
// concern a single capability, such as an unknown kind, are left for the
// applier so that the rest of the file still loads.
func (f *File) normalize() error {
	if f.Router.MaxRetries != nil && *f.Router.MaxRetries < 0 {
		return errors.New("router.max_retries must not be negative")
	}
	if f.Router.Jitter < 0 || f.Router.Jitter > 1 {
		return errors.New("router.jitter must be between 0 and 1")
	}
	if f.Router.Multiplier != 0 && f.Router.Multiplier < 1 {
		return errors.New("router.multiplier must be at least 1")
	}

	seen := make(map[string]int, len(f.Capabilities))
	for i := range f.Capabilities {
		c := &f.Capabilities[i]
		c.Kind = strings.TrimSpace(c.Kind)
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			c.Name = c.Kind
		}
		if c.Name == "" {
			return fmt.Errorf("capabilities[%d]: name or kind is required", i)
		}
		if prev, ok := seen[c.Name]; ok {
			return fmt.Errorf("capabilities[%d]: duplicate name %q (first declared at capabilities[%d])", i, c.Name, prev)
		}
		seen[c.Name] = i
	}
	return nil
}

// Names returns the capability names in file order.
func (f *File) Names() []string {
	out := make([]string, len(f.Capabilities))
	for i, c := range f.Capabilities {
		out[i] = c.Name
	}
	return out
}
