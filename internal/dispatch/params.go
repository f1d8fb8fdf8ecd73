package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Params holds the named parameters of a request. Values are the shapes
// produced by encoding/json: string, float64, bool, []any and map[string]any.
type Params map[string]any

// Has reports whether the parameter is present and non-nil.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns a string parameter, or "" if absent.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int, int64, bool, json.Number:
		return fmt.Sprint(t), nil
	}
	return "", &InvalidParameterError{Param: key, Reason: "must be a string"}
}

// RequiredString returns a non-empty string parameter.
func (p Params) RequiredString(key string) (string, error) {
	s, err := p.String(key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", MissingParameter(key)
	}
	return s, nil
}

// Int returns an integer parameter, or def if absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, &InvalidParameterError{Param: key, Reason: "must be an integer"}
		}
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, &InvalidParameterError{Param: key, Reason: "must be an integer"}
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, &InvalidParameterError{Param: key, Reason: "must be an integer"}
		}
		return n, nil
	}
	return 0, &InvalidParameterError{Param: key, Reason: "must be an integer"}
}

// Float returns a numeric parameter, or def if absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, &InvalidParameterError{Param: key, Reason: "must be a number"}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, &InvalidParameterError{Param: key, Reason: "must be a number"}
		}
		return f, nil
	}
	return 0, &InvalidParameterError{Param: key, Reason: "must be a number"}
}

// Bool returns a boolean parameter, or def if absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, &InvalidParameterError{Param: key, Reason: "must be a boolean"}
		}
		return b, nil
	}
	return false, &InvalidParameterError{Param: key, Reason: "must be a boolean"}
}

// Duration returns a duration parameter, or def if absent. Strings are parsed
// with time.ParseDuration, numbers are seconds.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return 0, &InvalidParameterError{Param: key, Reason: "must be a duration such as 30s or 5m"}
		}
		return d, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case int:
		return time.Duration(t) * time.Second, nil
	}
	return 0, &InvalidParameterError{Param: key, Reason: "must be a duration"}
}

// Time returns a timestamp parameter given as RFC3339 or Unix seconds.
// ok is false when the parameter is absent.
func (p Params) Time(key string) (t time.Time, ok bool, err error) {
	v, present := p[key]
	if !present || v == nil {
		return time.Time{}, false, nil
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false, nil
		}
		if ts, perr := time.Parse(time.RFC3339, s); perr == nil {
			return ts, true, nil
		}
		if f, perr := strconv.ParseFloat(s, 64); perr == nil {
			return unixSeconds(f), true, nil
		}
	case float64:
		return unixSeconds(x), true, nil
	case int64:
		return time.Unix(x, 0).UTC(), true, nil
	case int:
		return time.Unix(int64(x), 0).UTC(), true, nil
	}
	return time.Time{}, false, &InvalidParameterError{Param: key, Reason: "must be an RFC3339 timestamp or Unix seconds"}
}

func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// Strings returns a list parameter. A comma separated string is split.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, &InvalidParameterError{Param: key, Reason: "must be an array of strings"}
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, &InvalidParameterError{Param: key, Reason: "must be an array of strings"}
}

// Object returns an object parameter. A JSON encoded string is decoded.
func (p Params) Object(key string) (map[string]any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil, &InvalidParameterError{Param: key, Reason: "must be a JSON object"}
		}
		return out, nil
	}
	return nil, &InvalidParameterError{Param: key, Reason: "must be an object"}
}

// Clone returns a shallow copy of the parameters.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
