package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
	ErrorTypeConfig   ErrorType = "config_error"
	ErrorTypeInternal ErrorType = "internal_error"
)

// maxFrames limits the frames printed by Error.
const maxFrames = 10

// JSError is a structured script failure.
type JSError struct {
	Type    ErrorType    `json:"type"`
	Message string       `json:"message"`
	Stack   []StackFrame `json:"stack,omitempty"`
}

// StackFrame is one frame of a script stack trace.
type StackFrame struct {
	Function string `json:"function,omitempty"`
	Source   string `json:"source,omitempty"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

func (e *JSError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	for i, f := range e.Stack {
		if i == maxFrames {
			fmt.Fprintf(&b, "\n  ... %d more frames", len(e.Stack)-i)
			break
		}
		name := f.Function
		if name == "" {
			name = "<anonymous>"
		}
		fmt.Fprintf(&b, "\n  at %s (%s:%d:%d)", name, f.Source, f.Line, f.Column)
	}
	return b.String()
}

// IsType reports whether err is a JSError of type t.
func IsType(err error, t ErrorType) bool {
	var jsErr *JSError
	return errors.As(err, &jsErr) && jsErr.Type == t
}

// fromRunError converts an error returned by goja into a JSError.
func fromRunError(err error) *JSError {
	if err == nil {
		return nil
	}

	var jsErr *JSError
	if errors.As(err, &jsErr) {
		return jsErr
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &JSError{Type: ErrorTypeTimeout, Message: fmt.Sprint(interrupted.Value())}
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &JSError{Type: ErrorTypeSyntax, Message: syntax.Error()}
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fromException(exc)
	}

	return NewInternalError(err.Error())
}

func fromException(exc *goja.Exception) *JSError {
	jsErr := &JSError{Type: ErrorTypeRuntime, Message: exc.Error()}

	// security violations raised by the sandbox surface as Go errors
	if obj, ok := exc.Value().(*goja.Object); ok {
		if v := obj.Get("value"); v != nil {
			if inner, ok := v.Export().(*JSError); ok {
				jsErr.Type = inner.Type
				jsErr.Message = inner.Message
			}
		}
	}

	for _, f := range exc.Stack() {
		pos := f.Position()
		jsErr.Stack = append(jsErr.Stack, StackFrame{
			Function: f.FuncName(),
			Source:   f.SrcName(),
			Line:     pos.Line,
			Column:   pos.Column,
		})
	}
	return jsErr
}

// NewSecurityError creates a security error.
func NewSecurityError(message string) *JSError {
	return &JSError{Type: ErrorTypeSecurity, Message: message}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *JSError {
	return &JSError{Type: ErrorTypeConfig, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *JSError {
	return &JSError{Type: ErrorTypeInternal, Message: message}
}
