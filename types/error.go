package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Tool error codes. Recoverable: embedded in the transcript as tool results.
const (
	ErrUnknownTool         ErrorCode = "UNKNOWN_TOOL"
	ErrToolExecutionFailed ErrorCode = "TOOL_EXECUTION_FAILED"
)

// Engine error codes. Fatal for the current superstep or thread.
const (
	ErrModelInvocationFailed ErrorCode = "MODEL_INVOCATION_FAILED"
	ErrRoutingAmbiguous      ErrorCode = "ROUTING_AMBIGUOUS"
	ErrInvalidTranscript     ErrorCode = "INVALID_TRANSCRIPT"
	ErrStepBudgetExceeded    ErrorCode = "STEP_BUDGET_EXCEEDED"
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrConfigInvalid         ErrorCode = "CONFIG_INVALID"
)

// Checkpoint error codes
const (
	ErrCheckpointCorrupt  ErrorCode = "CHECKPOINT_CORRUPT"
	ErrCheckpointConflict ErrorCode = "CHECKPOINT_CONFLICT"
)

// Recoverable reports whether failures with this code are carried as transcript
// data instead of escaping the execution loop.
func (c ErrorCode) Recoverable() bool {
	switch c {
	case ErrUnknownTool, ErrToolExecutionFailed:
		return true
	}
	return false
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
