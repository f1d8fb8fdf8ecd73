package dispatch

import (
	"errors"
	"fmt"
	"sort"
)

// ParamType describes the expected shape of an operation parameter.
type ParamType string

// Supported parameter types.
const (
	ParamString   ParamType = "string"
	ParamNumber   ParamType = "number"
	ParamBool     ParamType = "boolean"
	ParamArray    ParamType = "array"
	ParamObject   ParamType = "object"
	ParamDuration ParamType = "duration"
	ParamTime     ParamType = "time"
)

// ParamSpec declares one parameter of an operation.
type ParamSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// OperationSpec declares one operation of a capability and its parameters.
type OperationSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Params      []ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`
}

// ConfigField declares one connection configuration key.
type ConfigField struct {
	Name        string `json:"name" yaml:"name"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Capability is a named category of backend functionality.
type Capability struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Operations  []OperationSpec `json:"operations" yaml:"operations"`
	Config      []ConfigField   `json:"config,omitempty" yaml:"config,omitempty"`
}

// Validate checks that the capability definition is well formed.
func (c Capability) Validate() error {
	if c.Name == "" {
		return errors.New("capability name is required")
	}
	if len(c.Operations) == 0 {
		return fmt.Errorf("capability %q declares no operations", c.Name)
	}
	seen := make(map[string]struct{}, len(c.Operations))
	for _, op := range c.Operations {
		if op.Name == "" {
			return fmt.Errorf("capability %q has an operation without a name", c.Name)
		}
		if _, dup := seen[op.Name]; dup {
			return fmt.Errorf("capability %q declares operation %q twice", c.Name, op.Name)
		}
		seen[op.Name] = struct{}{}
		for _, p := range op.Params {
			switch p.Type {
			case ParamString, ParamNumber, ParamBool, ParamArray, ParamObject, ParamDuration, ParamTime:
			default:
				return fmt.Errorf("operation %q parameter %q has unknown type %q", op.Name, p.Name, p.Type)
			}
		}
	}
	return nil
}

// Supports reports whether op is a declared operation.
func (c Capability) Supports(op string) bool {
	_, ok := c.Operation(op)
	return ok
}

// Operation returns the declaration of op.
func (c Capability) Operation(op string) (OperationSpec, bool) {
	for _, o := range c.Operations {
		if o.Name == op {
			return o, true
		}
	}
	return OperationSpec{}, false
}

// OperationNames returns the declared operation names in sorted order.
func (c Capability) OperationNames() []string {
	names := make([]string, 0, len(c.Operations))
	for _, o := range c.Operations {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}

// Named returns a deep copy of c registered under a different name.
func (c Capability) Named(name string) Capability {
	out := c.Clone()
	out.Name = name
	return out
}

// Clone returns a deep copy of the capability.
func (c Capability) Clone() Capability {
	out := c
	out.Operations = make([]OperationSpec, len(c.Operations))
	for i, op := range c.Operations {
		op.Params = append([]ParamSpec(nil), op.Params...)
		out.Operations[i] = op
	}
	out.Config = append([]ConfigField(nil), c.Config...)
	return out
}

// ValidateConfig checks cfg against the capability's configuration schema and
// returns a ConfigurationError listing every missing or invalid field.
func (c Capability) ValidateConfig(cfg AdapterConfig) error {
	cerr := &ConfigurationError{Capability: c.Name, Invalid: map[string]string{}}
	for _, f := range c.Config {
		if f.Required && cfg.Get(f.Name) == "" {
			cerr.Missing = append(cerr.Missing, f.Name)
		}
	}
	for field, reason := range cfg.check() {
		cerr.Invalid[field] = reason
	}
	if len(cerr.Missing) == 0 && len(cerr.Invalid) == 0 {
		return nil
	}
	sort.Strings(cerr.Missing)
	return cerr
}

// ValidateParams checks that every required parameter of the operation is
// present and that present parameters have the declared type.
func (op OperationSpec) ValidateParams(p Params) error {
	for _, spec := range op.Params {
		if !p.Has(spec.Name) {
			if spec.Required {
				return &InvalidParameterError{Operation: op.Name, Param: spec.Name, Reason: "is required"}
			}
			continue
		}
		var err error
		switch spec.Type {
		case ParamString:
			var s string
			s, err = p.String(spec.Name)
			if err == nil && spec.Required && s == "" {
				err = MissingParameter(spec.Name)
			}
		case ParamNumber:
			_, err = p.Float(spec.Name, 0)
		case ParamBool:
			_, err = p.Bool(spec.Name, false)
		case ParamArray:
			_, err = p.Strings(spec.Name)
		case ParamObject:
			_, err = p.Object(spec.Name)
		case ParamDuration:
			_, err = p.Duration(spec.Name, 0)
		case ParamTime:
			_, _, err = p.Time(spec.Name)
		}
		if err != nil {
			var perr *InvalidParameterError
			if errors.As(err, &perr) {
				perr.Operation = op.Name
				return perr
			}
			return err
		}
	}
	return nil
}
