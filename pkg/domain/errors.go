package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below via errors.Is
var (
	ErrInvalidGraph         = errors.New("invalid graph")
	ErrUnsupportedTarget    = errors.New("unsupported target")
	ErrStateType            = errors.New("state type mismatch")
	ErrAccessDenied         = errors.New("access denied")
	ErrAccumulationTimeout  = errors.New("accumulation timeout")
	ErrStepFailed           = errors.New("step failed")
	ErrScopeFault           = errors.New("unhandled scope fault")
	ErrVariableNotFound     = errors.New("variable not found")
	ErrRunNotFound          = errors.New("run not found")
	ErrRunNotActive         = errors.New("run not active")
	ErrGroupNotFound        = errors.New("edge group not found")
	ErrCascadeLimitExceeded = errors.New("event cascade limit exceeded")
)

// InvalidGraphError reports a build-time wiring problem
type InvalidGraphError struct {
	NodeID string
	Edge   string
	Reason string
}

func (e *InvalidGraphError) Error() string {
	var b strings.Builder
	b.WriteString("invalid graph")
	if e.NodeID != "" {
		fmt.Fprintf(&b, ": node %q", e.NodeID)
	}
	if e.Edge != "" {
		fmt.Fprintf(&b, ": edge %s", e.Edge)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Is reports whether target is ErrInvalidGraph
func (e *InvalidGraphError) Is(target error) bool { return target == ErrInvalidGraph }

// UnsupportedTargetError is returned when a target variant cannot be turned into a message
type UnsupportedTargetError struct {
	Kind TargetKind
	Edge string
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("unsupported target kind %q on edge %s", e.Kind, e.Edge)
}

// Is reports whether target is ErrUnsupportedTarget
func (e *UnsupportedTargetError) Is(target error) bool { return target == ErrUnsupportedTarget }

// StateTypeError is returned when an arithmetic update meets a non-numeric or out-of-range value
type StateTypeError struct {
	Path      string
	Operation Operation
	Value     any
	// Reason overrides the default "not numeric" explanation
	Reason string
}

func (e *StateTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s %q: %s", e.Operation, e.Path, e.Reason)
	}
	return fmt.Sprintf("cannot %s %q: value of type %T is not numeric", e.Operation, e.Path, e.Value)
}

// Is reports whether target is ErrStateType
func (e *StateTypeError) Is(target error) bool { return target == ErrStateType }

// AccessDeniedError is returned on ACL or immutability violations
type AccessDeniedError struct {
	NodeID string
	Path   string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("access denied to %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("access denied to %q for node %q: %s", e.Path, e.NodeID, e.Reason)
}

// Is reports whether target is ErrAccessDenied
func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// AccumulationTimeoutError is raised when a join window is force-expired
type AccumulationTimeoutError struct {
	RunID   string
	GroupID string
	Missing []EventKey
}

func (e *AccumulationTimeoutError) Error() string {
	missing := make([]string, 0, len(e.Missing))
	for _, k := range e.Missing {
		missing = append(missing, k.String())
	}
	return fmt.Sprintf("group %q in run %s expired waiting for [%s]", e.GroupID, e.RunID, strings.Join(missing, ", "))
}

// Is reports whether target is ErrAccumulationTimeout
func (e *AccumulationTimeoutError) Is(target error) bool { return target == ErrAccumulationTimeout }

// StepFailedError wraps a failure reported by the step execution collaborator
type StepFailedError struct {
	NodeID       string
	FunctionName string
	Cause        error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s.%s failed: %v", e.NodeID, e.FunctionName, e.Cause)
}

// Is reports whether target is ErrStepFailed
func (e *StepFailedError) Is(target error) bool { return target == ErrStepFailed }

func (e *StepFailedError) Unwrap() error { return e.Cause }

// ScopeFaultError is surfaced to the host when no handler recovered a runtime error
type ScopeFaultError struct {
	RunID   string
	NodeID  string
	GroupID string
	Cause   error
}

func (e *ScopeFaultError) Error() string {
	scope := "run " + e.RunID
	if e.GroupID != "" {
		scope += " group " + e.GroupID
	}
	if e.NodeID != "" {
		return fmt.Sprintf("unhandled fault in %s at node %q: %v", scope, e.NodeID, e.Cause)
	}
	return fmt.Sprintf("unhandled fault in %s: %v", scope, e.Cause)
}

// Is reports whether target is ErrScopeFault
func (e *ScopeFaultError) Is(target error) bool { return target == ErrScopeFault }

func (e *ScopeFaultError) Unwrap() error { return e.Cause }

// ErrorKind returns the name graph-level error handlers match against
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidGraph):
		return "invalid_graph"
	case errors.Is(err, ErrUnsupportedTarget):
		return "unsupported_target"
	case errors.Is(err, ErrStateType):
		return "state_type"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrAccumulationTimeout):
		return "accumulation_timeout"
	case errors.Is(err, ErrStepFailed):
		return "step_failed"
	default:
		return "error"
	}
}
