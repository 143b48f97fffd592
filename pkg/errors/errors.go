package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a flow, node or store could not be resolved by id or name
	ErrNotFound = errors.New("not found")

	// ErrBadFlowsJSON indicates a malformed flows document or an unresolved required reference
	ErrBadFlowsJSON = errors.New("bad flows json")

	// ErrGraphCycle indicates that a dependency graph could not be ordered
	ErrGraphCycle = errors.New("graph has cycles")

	// ErrDuplicateID indicates that two elements share the same id
	ErrDuplicateID = errors.New("duplicate element id")

	// ErrBadArguments indicates that an operation was called with invalid arguments
	ErrBadArguments = errors.New("bad arguments")

	// ErrInvalidOperation indicates that an operation is not valid in the current state
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidData indicates that a value could not be converted or interpreted
	ErrInvalidData = errors.New("invalid data")

	// ErrTaskCancelled indicates that a blocking operation observed cancellation
	ErrTaskCancelled = errors.New("task cancelled")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrAmbiguousName indicates that a name lookup matched more than one element
	ErrAmbiguousName = errors.New("ambiguous name")

	// ErrLinkCallStackEmpty indicates a return-mode link out received a message without a call frame
	ErrLinkCallStackEmpty = errors.New("link call stack is empty")

	// ErrAlreadyRegistered indicates that a node type was registered twice
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrUnsupported indicates a recognised but unsupported feature
	ErrUnsupported = errors.New("unsupported")
)

// Error represents a structured runtime error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// BadFlowsJSON wraps ErrBadFlowsJSON with a formatted reason.
func BadFlowsJSON(format string, args ...any) error {
	return NewError("BAD_FLOWS_JSON", fmt.Sprintf(format, args...), ErrBadFlowsJSON)
}

// BadArguments wraps ErrBadArguments with a formatted reason.
func BadArguments(format string, args ...any) error {
	return NewError("BAD_ARGUMENTS", fmt.Sprintf(format, args...), ErrBadArguments)
}

// InvalidOperation wraps ErrInvalidOperation with a formatted reason.
func InvalidOperation(format string, args ...any) error {
	return NewError("INVALID_OPERATION", fmt.Sprintf(format, args...), ErrInvalidOperation)
}

// InvalidData wraps ErrInvalidData with a formatted reason.
func InvalidData(format string, args ...any) error {
	return NewError("INVALID_DATA", fmt.Sprintf(format, args...), ErrInvalidData)
}

// NotFound wraps ErrNotFound with a formatted reason.
func NotFound(format string, args ...any) error {
	return NewError("NOT_FOUND", fmt.Sprintf(format, args...), ErrNotFound)
}

// IsCancelled reports whether err is a cancellation outcome rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrTaskCancelled) || errors.Is(err, context.Canceled)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound checks if an error is a lookup miss
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Is and As re-export the standard helpers so callers need a single errors import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
