package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeConfigInvalid, "missing body count"),
			expected: "[CONFIG_INVALID] missing body count",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeIOFailure, "failed to read bodies", errors.New("permission denied")),
			expected: "[IO_FAILURE] failed to read bodies: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeFloatingPointTrap, "nan in acceleration", underlying)

	unwrapped := err.Unwrap()
	assert.Equal(t, underlying, unwrapped)
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeDivisibility, "error 1")
	err2 := New(CodeDivisibility, "error 2")
	err3 := New(CodeIOFailure, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeCoincidentBodies, "two bodies at origin"),
			expected: CodeCoincidentBodies,
		},
		{
			name:     "wrapped app error",
			err:      Wrap(CodeIOFailure, "write failed", errors.New("disk full")),
			expected: CodeIOFailure,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: CodeGenericFailure,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: CodeGenericFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"config invalid", ErrConfigInvalid, 2},
		{"divisibility", ErrDivisibility, 3},
		{"io failure", ErrIOFailure, 4},
		{"coincident bodies", ErrCoincidentBodies, 5},
		{"floating point trap", ErrFloatingPointTrap, 6},
		{"generic failure", ErrGenericFailure, 1},
		{"unclassified standard error", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

func TestSentinelsDistinguishableByErrorsIs(t *testing.T) {
	wrapped := Wrap(CodeCoincidentBodies, "bodies 3 and 7 coincide", nil)
	assert.True(t, errors.Is(wrapped, ErrCoincidentBodies))
	assert.False(t, errors.Is(wrapped, ErrIOFailure))
}
