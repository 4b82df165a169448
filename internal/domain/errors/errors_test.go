package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name: "with wrapped error",
			err: &DomainError{
				Code:    "terminal_failed",
				Message: "terminal payment failed",
				Err:     errors.New("gateway timeout"),
			},
			expected: "terminal payment failed: gateway timeout",
		},
		{
			name: "without wrapped error",
			err: &DomainError{
				Code:    "invalid_state",
				Message: "cannot cancel a concluded session",
				Err:     nil,
			},
			expected: "cannot cancel a concluded session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	domainErr := &DomainError{
		Code:    "test",
		Message: "test message",
		Err:     originalErr,
	}

	unwrapped := domainErr.Unwrap()
	assert.Equal(t, originalErr, unwrapped)
}

func TestNewDomainError(t *testing.T) {
	originalErr := errors.New("underlying error")
	err := NewDomainError("test_code", "test message", originalErr)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Equal(t, originalErr, err.Err)
}

func TestNewDomainError_NilWrappedError(t *testing.T) {
	err := NewDomainError("test_code", "test message", nil)

	assert.NotNil(t, err)
	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "test message", err.Message)
	assert.Nil(t, err.Err)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "device_code",
		Message: "cannot be empty",
	}

	expected := "validation failed for field device_code: cannot be empty"
	assert.Equal(t, expected, err.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("amount", "must be greater than 0")

	assert.NotNil(t, err)
	assert.Equal(t, "amount", err.Field)
	assert.Equal(t, "must be greater than 0", err.Message)
}

func TestErrorConstants(t *testing.T) {
	// Session errors
	assert.NotNil(t, ErrSessionNotFound)
	assert.NotNil(t, ErrInvalidStateTransition)
	assert.NotNil(t, ErrMaxAttemptsExceeded)
	assert.NotNil(t, ErrReferenceConcluded)
	assert.NotNil(t, ErrInvalidAmount)

	// Device errors
	assert.NotNil(t, ErrNoDevicesConfigured)
	assert.NotNil(t, ErrDeviceNotReady)
	assert.NotNil(t, ErrInvalidDeviceCode)

	// Gateway errors
	assert.NotNil(t, ErrGatewayUnavailable)
	assert.NotNil(t, ErrGatewayTimeout)
	assert.NotNil(t, ErrGatewayResponse)

	// Webhook errors
	assert.NotNil(t, ErrInvalidSignature)
	assert.NotNil(t, ErrMissingSignature)

	// Lock errors
	assert.NotNil(t, ErrLockAcquisitionFailed)
	assert.NotNil(t, ErrLockNotHeld)

	assert.NotNil(t, ErrInvalidInput)
}

func TestErrorUnwrapping(t *testing.T) {
	baseErr := ErrGatewayTimeout
	wrappedErr := NewDomainError("gateway_error", "status check failed", baseErr)

	assert.True(t, errors.Is(wrappedErr, baseErr))
	assert.ErrorIs(t, wrappedErr, ErrGatewayTimeout)
}

func TestValidationError_MatchesInvalidInput(t *testing.T) {
	err := fmt.Errorf("start payment: %w", NewValidationError("amount", "must be greater than 0"))

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrInvalidAmount)
}
