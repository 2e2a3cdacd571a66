// Package errext contains the structured error types that the tidal runtime
// surfaces instead of letting VM exceptions unwind through native frames.
package errext

import (
	"errors"
	"fmt"
)

// Kind classifies a JavaScript-level failure.
type Kind uint8

// The failure classes the runtime can produce.
const (
	// ResolutionError means a module specifier could not be resolved to an
	// existing, reachable source.
	ResolutionError Kind = iota + 1
	// CompileError means a script or module failed to parse.
	CompileError
	// LinkError means module instantiation failed, e.g. an unsatisfied
	// import or export binding.
	LinkError
	// RuntimeError means script or module evaluation threw.
	RuntimeError
	// EngineTerminated means the VM stopped executing without producing
	// either a value or an exception.
	EngineTerminated
	// ConfigurationError means the runtime itself was misconfigured, e.g.
	// the bootstrap module requested an unknown binding.
	ConfigurationError
)

func (k Kind) String() string {
	switch k {
	case ResolutionError:
		return "ResolutionError"
	case CompileError:
		return "CompileError"
	case LinkError:
		return "LinkError"
	case RuntimeError:
		return "RuntimeError"
	case EngineTerminated:
		return "EngineTerminated"
	case ConfigurationError:
		return "ConfigurationError"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Exception represents errors that resulted from a script exception and
// carry a stack trace that lead to them.
type Exception interface {
	error
	Kind() Kind
	StackTrace() string
}

// JSError is the concrete structured error for every failure class. It holds
// enough context to reconstruct a human-readable diagnostic without
// re-entering the VM.
type JSError struct {
	ErrKind    Kind
	Message    string
	SourceName string
	Line       int
	Column     int
	Stack      string

	wrapped error
}

var _ Exception = &JSError{}

// NewJSError builds a JSError of the given kind, optionally wrapping the
// underlying cause.
func NewJSError(kind Kind, message string, cause error) *JSError {
	return &JSError{ErrKind: kind, Message: message, wrapped: cause}
}

func (e *JSError) Error() string {
	if e.SourceName != "" && e.Line > 0 {
		return fmt.Sprintf("%s: %s (%s:%d:%d)", e.ErrKind, e.Message, e.SourceName, e.Line, e.Column)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Message)
}

// Kind returns the failure class.
func (e *JSError) Kind() Kind { return e.ErrKind }

// StackTrace returns the engine-formatted stack trace if one was captured,
// falling back to the plain error text.
func (e *JSError) StackTrace() string {
	if e.Stack != "" {
		return e.Stack
	}
	return e.Error()
}

// Unwrap returns the wrapped cause, if any.
func (e *JSError) Unwrap() error { return e.wrapped }

// IsKind reports whether err is (or wraps) a JSError of the given kind.
func IsKind(err error, kind Kind) bool {
	var jserr *JSError
	return errors.As(err, &jserr) && jserr.ErrKind == kind
}
