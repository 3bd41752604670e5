// Package errors defines the error kinds used across the simulator, each
// carrying enough context to classify a process-group abort (spec §7).
package errors

import (
	"errors"
	"fmt"
)

// Error codes, one per §7 error kind.
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeDivisibility      = "DIVISIBILITY"
	CodeIOFailure         = "IO_FAILURE"
	CodeCoincidentBodies  = "COINCIDENT_BODIES"
	CodeFloatingPointTrap = "FLOATING_POINT_TRAP"
	CodeGenericFailure    = "GENERIC_FAILURE"
)

// AppError represents a classified engine error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Sentinel instances for errors.Is comparisons against a bare code.
var (
	ErrConfigInvalid     = New(CodeConfigInvalid, "invalid configuration")
	ErrDivisibility      = New(CodeDivisibility, "body count not divisible by process-group size")
	ErrIOFailure         = New(CodeIOFailure, "I/O failure")
	ErrCoincidentBodies  = New(CodeCoincidentBodies, "two bodies share an exact position")
	ErrFloatingPointTrap = New(CodeFloatingPointTrap, "floating-point trap")
	ErrGenericFailure    = New(CodeGenericFailure, "unexpected failure")
)

// GetErrorCode extracts the error code from an error, defaulting to
// CodeGenericFailure when err does not wrap an *AppError.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeGenericFailure
}

// ExitCode maps an error to the process-group abort exit status: each
// error kind gets a distinct nonzero code so operators can distinguish
// configuration mistakes from runtime faults without parsing log text.
func ExitCode(err error) int {
	switch GetErrorCode(err) {
	case CodeConfigInvalid:
		return 2
	case CodeDivisibility:
		return 3
	case CodeIOFailure:
		return 4
	case CodeCoincidentBodies:
		return 5
	case CodeFloatingPointTrap:
		return 6
	default:
		return 1
	}
}
