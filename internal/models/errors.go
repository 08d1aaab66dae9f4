package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so the caller knows how to react to it.
type Kind string

// Error kinds. The empty Kind means unclassified.
const (
	// KindTransient is a single failed invocation that may succeed on retry.
	KindTransient Kind = "transient_tool_failure"
	// KindStateMismatch means the observed state diverged from the expected one.
	KindStateMismatch Kind = "state_mismatch"
	// KindIncomplete means a tool reported success without an observed state.
	KindIncomplete Kind = "incomplete"
	// KindTimeout means a wait was abandoned at its bound.
	KindTimeout Kind = "timeout"
	// KindResourceExhausted means a budget or threshold guard stopped progress.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindConfigurationInvalid means a setting was missing or out of range.
	KindConfigurationInvalid Kind = "configuration_invalid"
	// KindEscalationExhausted means the fallback ladder ran out.
	KindEscalationExhausted Kind = "escalation_exhausted"
	// KindInterruptUnresolved means an interrupt task could not clear its condition.
	KindInterruptUnresolved Kind = "interrupt_unresolved"
)

// Terminal reports whether the kind must always reach the operator.
func (k Kind) Terminal() bool {
	return k == KindEscalationExhausted || k == KindConfigurationInvalid
}

// CoreError is a classified error raised inside the orchestration core.
type CoreError struct {
	Kind    Kind   // Failure class
	Domain  Domain // Domain the failure belongs to (optional)
	Step    string // Step or operation that failed (optional)
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// NewError creates a CoreError of the given kind.
func NewError(kind Kind, msg string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: msg, Err: err}
}

// Errorf creates a CoreError with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDomain sets the domain and returns the error for chaining.
func (e *CoreError) WithDomain(d Domain) *CoreError {
	e.Domain = d
	return e
}

// WithStep sets the step and returns the error for chaining.
func (e *CoreError) WithStep(step string) *CoreError {
	e.Step = step
	return e
}

// Error implements the error interface for CoreError.
func (e *CoreError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Domain != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Domain))
	}
	if e.Step != "" {
		sb.WriteString(fmt.Sprintf(" at %s", e.Step))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first CoreError in err's chain.
// Deadline errors without a CoreError are reported as KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}

// IsKind checks if err is or wraps a CoreError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
