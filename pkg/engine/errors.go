package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for reporting and exit-code mapping.
type ErrorKind string

const (
	// KindPermissionDenied indicates the process lacks the privilege a step needs.
	KindPermissionDenied ErrorKind = "permission_denied"

	// KindBackendUnavailable indicates no usable package manager was resolved.
	KindBackendUnavailable ErrorKind = "backend_unavailable"

	// KindCommandFailed indicates an external command exited unsuccessfully
	// or timed out.
	KindCommandFailed ErrorKind = "command_failed"

	// KindPackageNotFound indicates the package manager does not know a package.
	KindPackageNotFound ErrorKind = "package_not_found"

	// KindValidationFailed indicates a candidate configuration was rejected.
	KindValidationFailed ErrorKind = "validation_failed"
)

// TimeoutExitCode is the exit code recorded for commands killed by the
// command timeout.
const TimeoutExitCode = -1

// Error is a classified error with enough context to explain a failed step.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Op names the operation or command being performed.
	Op string `json:"op,omitempty"`

	// ExitCode is the exit status of a failed command, when one ran.
	ExitCode int `json:"exit_code,omitempty"`

	// Stderr carries the trimmed diagnostic output of a failed command.
	Stderr string `json:"stderr,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Op)
	}
	if e.Kind == KindCommandFailed {
		msg = fmt.Sprintf("%s: exit code %d", msg, e.ExitCode)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithOp records the operation that failed.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// NewPermissionDenied creates a permission error.
func NewPermissionDenied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// NewBackendUnavailable creates an error for an unusable package backend.
func NewBackendUnavailable(message string, err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Message: message, Err: err}
}

// NewCommandFailed creates an error for a command that exited with code.
func NewCommandFailed(command string, code int, stderr string, err error) *Error {
	return &Error{
		Kind:     KindCommandFailed,
		Message:  "command failed",
		Op:       command,
		ExitCode: code,
		Stderr:   stderr,
		Err:      err,
	}
}

// NewPackageNotFound creates an error for an unknown package.
func NewPackageNotFound(pkg string) *Error {
	return &Error{Kind: KindPackageNotFound, Message: fmt.Sprintf("package %q not found", pkg)}
}

// NewValidationFailed creates an error for a rejected configuration.
func NewValidationFailed(message string, err error) *Error {
	return &Error{Kind: KindValidationFailed, Message: message, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CommandExitCode returns the exit code carried by a CommandFailed error and
// whether err was one.
func CommandExitCode(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindCommandFailed {
		return e.ExitCode, true
	}
	return 0, false
}
