package instrumentation

// Cardinality helpers for metric labels.
//
// Capability names come from the operator's capability file and are bounded.
// Operation names come from callers, so they are only trusted once a
// capability has been resolved for them.

const (
	// LabelUnresolved replaces operation names that no capability resolved.
	LabelUnresolved = "unresolved"

	// LabelNone is used when a dispatch never reached a capability.
	LabelNone = "none"

	// LabelFanOut is the capability label of aggregated fan-out dispatches.
	LabelFanOut = "fan-out"
)

// CapabilityLabel returns the label value for a capability name.
func CapabilityLabel(capability string) string {
	if capability == "" {
		return LabelNone
	}
	return capability
}

// OperationLabel returns the label value for an operation. Operations that
// were not resolved to a capability collapse into a single value.
func OperationLabel(capability, operation string) string {
	if capability == "" || operation == "" {
		return LabelUnresolved
	}
	return operation
}
