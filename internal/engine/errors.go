package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/rcmflow/internal/ir"
)

// ActionError represents a failure detected while dispatching one action.
//
// Action errors include:
//   - No handler: the action type has no registered handler
//   - Handler failed: the handler returned an error
//   - Handler panic: the handler panicked and was recovered
//   - Cancelled / timeout: the context ended before the action finished
//   - Invalid parameters: a built-in handler rejected its parameters
//
// ActionErrors never escape the public execute functions; they are rendered
// into ActionExecutionResult.Error.
type ActionError struct {
	// Code identifies the error category.
	Code ActionErrorCode

	// ActionType is the type of the failing action.
	ActionType ir.ActionType

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ActionErrorCode categorizes action dispatch errors.
type ActionErrorCode string

const (
	// ErrCodeNoHandler indicates no handler is registered for the action type.
	ErrCodeNoHandler ActionErrorCode = "NO_HANDLER"

	// ErrCodeHandlerFailed indicates the handler returned an error.
	ErrCodeHandlerFailed ActionErrorCode = "HANDLER_FAILED"

	// ErrCodeHandlerPanic indicates the handler panicked.
	ErrCodeHandlerPanic ActionErrorCode = "HANDLER_PANIC"

	// ErrCodeCancelled indicates the context was cancelled.
	ErrCodeCancelled ActionErrorCode = "CANCELLED"

	// ErrCodeTimeout indicates the per-action deadline elapsed.
	ErrCodeTimeout ActionErrorCode = "TIMEOUT"

	// ErrCodeInvalidParameters indicates a handler rejected its parameters.
	ErrCodeInvalidParameters ActionErrorCode = "INVALID_PARAMETERS"
)

// Error implements the error interface.
func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ActionError) Unwrap() error {
	return e.Err
}

// ErrRegistryFrozen is returned by Registry.Register once an engine has been
// built from the registry.
var ErrRegistryFrozen = errors.New("action registry is frozen")

// NewNoHandlerError creates an ActionError for an unregistered action type.
func NewNoHandlerError(actionType ir.ActionType) *ActionError {
	return &ActionError{
		Code:       ErrCodeNoHandler,
		ActionType: actionType,
		Message:    fmt.Sprintf("no handler registered for action type %q", actionType),
	}
}

// NewInvalidParametersError creates an ActionError for rejected parameters.
// Built-in handlers return it so callers can tell shape problems from I/O failures.
func NewInvalidParametersError(actionType ir.ActionType, format string, args ...any) *ActionError {
	return &ActionError{
		Code:       ErrCodeInvalidParameters,
		ActionType: actionType,
		Message:    fmt.Sprintf(format, args...),
	}
}

func actionErrorCode(err error) ActionErrorCode {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsNoHandlerError returns true if the error is an unregistered handler error.
// Uses errors.As to handle wrapped errors.
func IsNoHandlerError(err error) bool {
	return actionErrorCode(err) == ErrCodeNoHandler
}

// IsTimeoutError returns true if the action ran out of time.
func IsTimeoutError(err error) bool {
	return actionErrorCode(err) == ErrCodeTimeout
}

// IsCancelledError returns true if the action's context was cancelled.
func IsCancelledError(err error) bool {
	return actionErrorCode(err) == ErrCodeCancelled
}

// IsInvalidParametersError returns true if a handler rejected its parameters.
func IsInvalidParametersError(err error) bool {
	return actionErrorCode(err) == ErrCodeInvalidParameters
}
