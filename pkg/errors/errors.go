// Package errors defines the runtime's error taxonomy: one typed struct
// per behavioral kind, each carrying a machine-readable code and a
// context map, following the wrap-with-context shape the teacher uses
// for its own config and service errors.
package errors

import (
	"fmt"
)

// Kind identifies which behavioral category an error belongs to.
type Kind string

const (
	KindRecoverable     Kind = "RECOVERABLE"
	KindFatal           Kind = "FATAL"
	KindAgentState      Kind = "AGENT_STATE"
	KindAgentExecution  Kind = "AGENT_EXECUTION"
	KindPathValidation  Kind = "PATH_VALIDATION"
	KindResourceLimit   Kind = "RESOURCE_LIMIT"
	KindLifecycle       Kind = "LIFECYCLE"
	KindVersionConflict Kind = "VERSION_CONFLICT"
	KindProvider        Kind = "PROVIDER"
	KindSecurity        Kind = "SECURITY"
)

// Error is the runtime's uniform error type: a behavioral Kind, a
// machine-readable Code, a human message, optional Context, and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext returns a copy of e with key set in its context map.
func (e *Error) WithContext(key string, value any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

func newErr(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Recoverable wraps a transient failure the caller should retry.
func Recoverable(code, message string, cause error) *Error {
	return newErr(KindRecoverable, code, message, cause)
}

// Fatal wraps a failure that must abort the current operation without retry.
func Fatal(code, message string, cause error) *Error {
	return newErr(KindFatal, code, message, cause)
}

// AgentState wraps an illegal agent state transition.
func AgentState(code, message string, cause error) *Error {
	return newErr(KindAgentState, code, message, cause)
}

// AgentExecution wraps a failure raised while a Script/CodeProvider ran.
func AgentExecution(code, message string, cause error) *Error {
	return newErr(KindAgentExecution, code, message, cause)
}

// PathValidation wraps a rejected filesystem path (escape, symlink, etc).
func PathValidation(code, message string, cause error) *Error {
	return newErr(KindPathValidation, code, message, cause)
}

// ResourceLimit wraps a CPU/memory/wall-clock budget violation.
func ResourceLimit(code, message string, cause error) *Error {
	return newErr(KindResourceLimit, code, message, cause)
}

// Lifecycle wraps a lifecycle-store failure that is not a version conflict.
func Lifecycle(code, message string, cause error) *Error {
	return newErr(KindLifecycle, code, message, cause)
}

// VersionConflict wraps an optimistic-concurrency failure: the caller's
// expected version did not match the stored version.
func VersionConflict(agentID string, expected, actual int) *Error {
	return newErr(KindVersionConflict, "VERSION_CONFLICT",
		fmt.Sprintf("version conflict for agent %s: expected %d, found %d", agentID, expected, actual), nil).
		WithContext("agent_id", agentID).
		WithContext("expected_version", expected).
		WithContext("actual_version", actual)
}

// Provider wraps a CodeProvider failure (generation error, timeout, etc).
func Provider(code, message string, cause error) *Error {
	return newErr(KindProvider, code, message, cause)
}

// Security wraps a capability or sandbox-boundary violation.
func Security(code, message string, cause error) *Error {
	return newErr(KindSecurity, code, message, cause)
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
