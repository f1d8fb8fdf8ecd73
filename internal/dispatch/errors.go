package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// Error classes as they appear in the "class" field of result envelopes.
const (
	ClassConfiguration        = "ConfigurationError"
	ClassUnknownCapability    = "UnknownCapabilityError"
	ClassUnsupportedOperation = "UnsupportedOperationError"
	ClassInvalidParameter     = "InvalidParameterError"
	ClassAmbiguousOperation   = "AmbiguousOperationError"
	ClassUnknownOperation     = "UnknownOperationError"
	ClassTransientAdapter     = "TransientAdapterError"
	ClassPermanentAdapter     = "PermanentAdapterError"
	ClassProtocol             = "ProtocolError"
	ClassSessionStore         = "SessionStoreError"
	ClassValidation           = "ValidationError"
	ClassPartialResult        = "PartialResult"
	ClassInternal             = "InternalError"
)

// Error categories let callers phrase a message without inspecting the class.
const (
	// CategoryInvalidRequest means the request itself was wrong.
	CategoryInvalidRequest = "invalid_request"

	// CategoryBackendUnavailable means the backend could not be reached in time.
	CategoryBackendUnavailable = "backend_unavailable"

	// CategoryBackendRejected means the backend refused this specific input.
	CategoryBackendRejected = "backend_rejected"

	// CategoryIncomplete marks results that are usable but not complete.
	CategoryIncomplete = "incomplete"

	// CategoryInternal covers configuration, protocol and session store failures.
	CategoryInternal = "internal"
)

// Sentinel errors for the dispatch error taxonomy.
// Typed errors below unwrap to these so callers can use errors.Is().
var (
	// ErrConfiguration indicates a capability could not be registered because
	// its adapter configuration is missing or invalid fields.
	ErrConfiguration = errors.New("invalid capability configuration")

	// ErrUnknownCapability indicates no binding exists for a capability name.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrUnsupportedOperation indicates the capability does not declare the operation.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrInvalidParameter indicates a missing or malformed request parameter.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrAmbiguousOperation indicates more than one capability declares the operation.
	ErrAmbiguousOperation = errors.New("ambiguous operation")

	// ErrUnknownOperation indicates no capability declares the operation.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrTransientAdapter indicates a network or timeout failure. Retryable.
	ErrTransientAdapter = errors.New("transient adapter failure")

	// ErrPermanentAdapter indicates the backend rejected the request. Never retried.
	ErrPermanentAdapter = errors.New("backend rejected request")

	// ErrProtocol indicates the backend answered with something that could not be parsed.
	ErrProtocol = errors.New("unexpected backend response")

	// ErrSessionStore indicates the session store failed. Treated as permanent.
	ErrSessionStore = errors.New("session store failure")

	// ErrValidation indicates a structurally invalid request envelope.
	ErrValidation = errors.New("invalid request envelope")
)

// ConfigurationError lists every missing or invalid configuration field
// found while registering a capability.
type ConfigurationError struct {
	Capability string
	Missing    []string
	Invalid    map[string]string
	Err        error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		invalid := make([]string, 0, len(keys))
		for _, k := range keys {
			invalid = append(invalid, fmt.Sprintf("%s (%s)", k, e.Invalid[k]))
		}
		parts = append(parts, "invalid fields: "+strings.Join(invalid, ", "))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return fmt.Sprintf("capability %q configuration error: %s", e.Capability, strings.Join(parts, "; "))
}

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// UnknownCapabilityError is returned when resolving a name with no binding.
type UnknownCapabilityError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.Name)
}

// Unwrap returns ErrUnknownCapability.
func (e *UnknownCapabilityError) Unwrap() error {
	return ErrUnknownCapability
}

// UnsupportedOperationError is returned when a capability is asked for an
// operation it does not declare.
type UnsupportedOperationError struct {
	Capability string
	Operation  string
}

// Error implements the error interface.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("capability %q does not support operation %q", e.Capability, e.Operation)
}

// Unwrap returns ErrUnsupportedOperation.
func (e *UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

// InvalidParameterError names the offending parameter.
type InvalidParameterError struct {
	Operation string
	Param     string
	Reason    string
}

// Error implements the error interface.
func (e *InvalidParameterError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("invalid parameter %q for operation %q: %s", e.Param, e.Operation, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// Unwrap returns ErrInvalidParameter.
func (e *InvalidParameterError) Unwrap() error {
	return ErrInvalidParameter
}

// MissingParameter returns an InvalidParameterError for a required parameter.
func MissingParameter(param string) *InvalidParameterError {
	return &InvalidParameterError{Param: param, Reason: "is required"}
}

// AmbiguousOperationError is returned when several capabilities declare the
// same operation and nothing narrowed the choice.
type AmbiguousOperationError struct {
	Operation  string
	Candidates []string
}

// Error implements the error interface.
func (e *AmbiguousOperationError) Error() string {
	return fmt.Sprintf("operation %q is provided by multiple capabilities: %s",
		e.Operation, strings.Join(e.Candidates, ", "))
}

// Unwrap returns ErrAmbiguousOperation.
func (e *AmbiguousOperationError) Unwrap() error {
	return ErrAmbiguousOperation
}

// UnknownOperationError is returned when no capability declares the operation.
type UnknownOperationError struct {
	Operation string
}

// Error implements the error interface.
func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("no capability provides operation %q", e.Operation)
}

// Unwrap returns ErrUnknownOperation.
func (e *UnknownOperationError) Unwrap() error {
	return ErrUnknownOperation
}

// AdapterError is the classified failure of a backend call.
//
// Class is one of ClassTransientAdapter, ClassPermanentAdapter or ClassProtocol.
// For permanent errors Message carries the backend's own error text verbatim.
type AdapterError struct {
	Class   string
	Message string
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel belonging to the error class.
func (e *AdapterError) Is(target error) bool {
	switch target {
	case ErrTransientAdapter:
		return e.Class == ClassTransientAdapter
	case ErrPermanentAdapter:
		return e.Class == ClassPermanentAdapter
	case ErrProtocol:
		return e.Class == ClassProtocol
	}
	return false
}

// NewTransientError classifies a network-level failure as retryable.
func NewTransientError(message string, err error) *AdapterError {
	return &AdapterError{Class: ClassTransientAdapter, Message: message, Err: err}
}

// NewTimeoutError classifies an expired deadline as a retryable timeout.
func NewTimeoutError(err error) *AdapterError {
	return &AdapterError{Class: ClassTransientAdapter, Message: "timeout", Timeout: true, Err: err}
}

// NewPermanentError wraps a backend-reported error message verbatim.
func NewPermanentError(message string) *AdapterError {
	return &AdapterError{Class: ClassPermanentAdapter, Message: message}
}

// NewProtocolError classifies an unparseable backend response.
func NewProtocolError(message string, err error) *AdapterError {
	return &AdapterError{Class: ClassProtocol, Message: message, Err: err}
}

// SessionStoreError wraps a failure of the session store.
type SessionStoreError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *SessionStoreError) Error() string {
	return fmt.Sprintf("session %q: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SessionStoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrSessionStore.
func (e *SessionStoreError) Is(target error) bool {
	return target == ErrSessionStore
}

// ValidationError is a structural problem with an inbound request envelope.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Classify normalizes an arbitrary adapter error into the taxonomy.
// Already classified errors are returned as-is. Deadline and cancellation
// errors become transient timeouts, network errors become transient, and
// anything else is treated as a permanent backend failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if ClassOf(err) != ClassInternal {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError(err)
		}
		return NewTransientError("network error", err)
	}
	return NewPermanentError(err.Error())
}

// ClassOf returns the taxonomy class of err, or ClassInternal if err is not
// part of the taxonomy.
func ClassOf(err error) string {
	var adapterErr *AdapterError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &adapterErr):
		return adapterErr.Class
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrUnknownCapability):
		return ClassUnknownCapability
	case errors.Is(err, ErrUnsupportedOperation):
		return ClassUnsupportedOperation
	case errors.Is(err, ErrInvalidParameter):
		return ClassInvalidParameter
	case errors.Is(err, ErrAmbiguousOperation):
		return ClassAmbiguousOperation
	case errors.Is(err, ErrUnknownOperation):
		return ClassUnknownOperation
	case errors.Is(err, ErrSessionStore):
		return ClassSessionStore
	case errors.Is(err, ErrTransientAdapter):
		return ClassTransientAdapter
	case errors.Is(err, ErrPermanentAdapter):
		return ClassPermanentAdapter
	case errors.Is(err, ErrProtocol):
		return ClassProtocol
	}
	return ClassInternal
}

// CategoryOf maps an error class to its user-visible category.
func CategoryOf(class string) string {
	switch class {
	case ClassValidation, ClassUnknownCapability, ClassUnsupportedOperation,
		ClassInvalidParameter, ClassAmbiguousOperation, ClassUnknownOperation:
		return CategoryInvalidRequest
	case ClassTransientAdapter:
		return CategoryBackendUnavailable
	case ClassPermanentAdapter:
		return CategoryBackendRejected
	case ClassPartialResult:
		return CategoryIncomplete
	}
	return CategoryInternal
}

// IsRetryable reports whether the router may retry after err.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassTransientAdapter
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	var adapterErr *AdapterError
	return errors.As(err, &adapterErr) && adapterErr.Timeout
}
