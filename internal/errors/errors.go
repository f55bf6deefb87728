package errors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "VALIDATION"
	ErrorTypeProvider           ErrorType = "PROVIDER"
	ErrorTypeConflict           ErrorType = "CONFLICT"
	ErrorTypeCheckpointNotFound ErrorType = "CHECKPOINT_NOT_FOUND"
	ErrorTypeDirtyState         ErrorType = "DIRTY_STATE"
	ErrorTypeTimeout            ErrorType = "TIMEOUT"
	ErrorTypeInternal           ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by type so callers can use errors.Is with a bare
// constructor value, e.g. errors.Is(err, Conflict("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Type == t.Type
}

func Validation(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

func Provider(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeProvider,
		Message: message,
		cause:   cause,
	}
}

func Conflict(message string) *Error {
	return &Error{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

func CheckpointNotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeCheckpointNotFound,
		Message: message,
	}
}

func DirtyState(message string) *Error {
	return &Error{
		Type:    ErrorTypeDirtyState,
		Message: message,
	}
}

func Timeout(message string) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Message: message,
	}
}

func Internal(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		cause:   cause,
	}
}

// TypeOf returns the taxonomy type of err, or ErrorTypeInternal for
// errors produced outside this package.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}
