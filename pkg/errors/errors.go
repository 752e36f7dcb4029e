package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrArityMismatch indicates that a body's parameter count differs from the declared inputs
	ErrArityMismatch = errors.New("body arity does not match declared inputs")

	// ErrInvalidBody indicates that a process body is missing or is not callable
	ErrInvalidBody = errors.New("invalid process body")

	// ErrDuplicateSlot indicates that two inputs or two outputs share a name
	ErrDuplicateSlot = errors.New("duplicate slot name")

	// ErrInputCount indicates that the number of provided values is outside the accepted range
	ErrInputCount = errors.New("provided value count out of range")

	// ErrMissingInput indicates that a required input has no value
	ErrMissingInput = errors.New("missing required input")

	// ErrInputType indicates that a provided value cannot be assigned to the declared input type
	ErrInputType = errors.New("input value has wrong type")

	// ErrOutputContract indicates that a body result does not provide the declared outputs
	ErrOutputContract = errors.New("output contract violated")

	// ErrBodyFailed indicates that a process body returned an error or panicked
	ErrBodyFailed = errors.New("process body failed")

	// ErrEmptyLinker indicates that a linker was created or targeted with no slots
	ErrEmptyLinker = errors.New("linker has no slots")

	// ErrMixedLinker indicates that a slot set mixes inputs and outputs
	ErrMixedLinker = errors.New("linker mixes inputs and outputs")

	// ErrInvalidLink indicates a link between slots of the same role or foreign slots
	ErrInvalidLink = errors.New("invalid link")

	// ErrUnresolvable indicates that some processes can never be scheduled
	ErrUnresolvable = errors.New("unresolvable process dependencies")

	// ErrProcessNotFound indicates that a registry holds no process for an identifier
	ErrProcessNotFound = errors.New("process not found")

	// ErrFactoryLocked indicates a registration attempt on a read-only factory
	ErrFactoryLocked = errors.New("factory is locked")

	// ErrFactoryNotFound indicates that a manager holds no factory for an identifier
	ErrFactoryNotFound = errors.New("factory not found")

	// ErrUpstreamFailed indicates that a process was skipped because a producer
	// it is linked to failed in the same run
	ErrUpstreamFailed = errors.New("upstream process failed")
)

// Error codes carried by *Error.
const (
	CodeConstruction = "CONSTRUCTION"
	CodeExecution    = "EXECUTION"
	CodeLink         = "LINK"
	CodeRegistry     = "REGISTRY"
)

// Error represents a structured engine error
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

// NewError creates a new engine error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Construction wraps err as a construction-time error
func Construction(message string, err error) *Error {
	return NewError(CodeConstruction, message, err)
}

// Execution wraps err as a process execution error
func Execution(message string, err error) *Error {
	return NewError(CodeExecution, message, err)
}

// Link wraps err as a graph linking error
func Link(message string, err error) *Error {
	return NewError(CodeLink, message, err)
}

// Registry wraps err as a registry error
func Registry(message string, err error) *Error {
	return NewError(CodeRegistry, message, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsUnresolvable checks if an error is a graph linking failure
func IsUnresolvable(err error) bool {
	return errors.Is(err, ErrUnresolvable)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
