package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Kind classifies a result envelope.
type Kind string

// Result kinds.
const (
	KindData    Kind = "DATA"
	KindError   Kind = "ERROR"
	KindPartial Kind = "PARTIAL"
)

// Request is the normalized representation of one inbound task.
// A Request is immutable once it reaches the router.
type Request struct {
	Operation string `json:"operation"`
	Params    Params `json:"params,omitempty"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`

	// Capability pins resolution to one capability.
	Capability string `json:"capability,omitempty"`

	// Capabilities requests a fan-out of Operation to every named capability.
	Capabilities []string `json:"capabilities,omitempty"`

	// TimeoutMS is the caller's overall timeout budget in milliseconds.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// Validate performs the structural checks required before a request may be
// handed to the router.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Operation) == "" {
		return &ValidationError{Field: "operation", Reason: "is required"}
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "is required"}
	}
	if r.Sequence < 0 {
		return &ValidationError{Field: "sequence", Reason: "must not be negative"}
	}
	if r.TimeoutMS < 0 {
		return &ValidationError{Field: "timeout_ms", Reason: "must not be negative"}
	}
	if r.Capability != "" && len(r.Capabilities) > 0 {
		return &ValidationError{Field: "capabilities", Reason: "cannot be combined with capability"}
	}
	seen := make(map[string]struct{}, len(r.Capabilities))
	for _, name := range r.Capabilities {
		if strings.TrimSpace(name) == "" {
			return &ValidationError{Field: "capabilities", Reason: "must not contain empty names"}
		}
		if _, dup := seen[name]; dup {
			return &ValidationError{Field: "capabilities", Reason: fmt.Sprintf("lists %q twice", name)}
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Timeout returns the caller's budget, or def when none was given.
func (r Request) Timeout(def time.Duration) time.Duration {
	if r.TimeoutMS > 0 {
		return time.Duration(r.TimeoutMS) * time.Millisecond
	}
	return def
}

// Key identifies one exchange within a session for idempotent replay.
type Key struct {
	SessionID string
	Sequence  int64
}

// Key returns the idempotency key of the request.
func (r Request) Key() Key {
	return Key{SessionID: r.SessionID, Sequence: r.Sequence}
}

// IsFanOut reports whether the request explicitly targets several capabilities.
func (r Request) IsFanOut() bool {
	return len(r.Capabilities) > 1
}

// Target returns the single capability the request is pinned to, either via
// Capability or a one-element Capabilities list.
func (r Request) Target() string {
	if r.Capability != "" {
		return r.Capability
	}
	if len(r.Capabilities) == 1 {
		return r.Capabilities[0]
	}
	return ""
}

// SameExchange reports whether other repeats r: the same sequence with the
// same operation, targets and params. The timeout budget is not compared.
func (r Request) SameExchange(other Request) bool {
	if r.SessionID != other.SessionID || r.Sequence != other.Sequence ||
		r.Operation != other.Operation || r.Capability != other.Capability ||
		!slices.Equal(r.Capabilities, other.Capabilities) {
		return false
	}
	if len(r.Params) == 0 && len(other.Params) == 0 {
		return true
	}
	return reflect.DeepEqual(r.Params, other.Params)
}

// SplitPrefixedOperation splits "capability.operation" into its parts.
// ok is false when op carries no prefix.
func SplitPrefixedOperation(op string) (capability, operation string, ok bool) {
	capability, operation, ok = strings.Cut(op, ".")
	if !ok || capability == "" || operation == "" {
		return "", op, false
	}
	return capability, operation, true
}

// ErrorDetail is the error part of a result envelope.
type ErrorDetail struct {
	Class      string `json:"class"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	Capability string `json:"capability,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// NewErrorDetail builds an ErrorDetail from a classified error.
func NewErrorDetail(err error) *ErrorDetail {
	class := ClassOf(err)
	return &ErrorDetail{
		Class:     class,
		Category:  CategoryOf(class),
		Message:   err.Error(),
		Retryable: class == ClassTransientAdapter,
	}
}

// Result is the normalized response envelope.
//
// DATA results carry a payload and no error, ERROR results carry an error and
// no payload, PARTIAL results carry both.
type Result struct {
	Success    bool         `json:"success"`
	Kind       Kind         `json:"kind"`
	Payload    any          `json:"payload,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
	Summary    string       `json:"summary"`
	Capability string       `json:"capability,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`
}

// Data returns a successful result.
func Data(payload any, summary string) *Result {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Result{
		Success: true,
		Kind:    KindData,
		Payload: payload,
		Summary: summary,
	}
}

// Partial returns a usable but incomplete result. reason explains what is missing.
func Partial(payload any, reason, summary string) *Result {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Result{
		Success: true,
		Kind:    KindPartial,
		Payload: payload,
		Error: &ErrorDetail{
			Class:    ClassPartialResult,
			Category: CategoryIncomplete,
			Message:  reason,
		},
		Summary: summary,
	}
}

// Failure returns an ERROR result describing err.
func Failure(err error) *Result {
	detail := NewErrorDetail(err)
	return &Result{
		Success: false,
		Kind:    KindError,
		Error:   detail,
		Summary: fmt.Sprintf("%s: %s", detail.Class, detail.Message),
	}
}

// Validate checks the payload/error invariant of the envelope.
func (r *Result) Validate() error {
	switch r.Kind {
	case KindData:
		if !r.Success || r.Payload == nil || r.Error != nil {
			return errors.New("DATA result must succeed with a payload and no error")
		}
	case KindError:
		if r.Success || r.Payload != nil || r.Error == nil {
			return errors.New("ERROR result must fail with an error and no payload")
		}
	case KindPartial:
		if r.Payload == nil || r.Error == nil {
			return errors.New("PARTIAL result must carry both payload and error")
		}
	default:
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
	return nil
}

// Clone returns a shallow copy with a copied error detail.
// Payloads are treated as immutable once produced.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Error != nil {
		detail := *r.Error
		c.Error = &detail
	}
	return &c
}
