package errors

import (
	"errors"
	"fmt"
)

var (
	// Session errors
	ErrSessionNotFound        = errors.New("payment session not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMaxAttemptsExceeded    = errors.New("max poll attempts exceeded")
	ErrReferenceConcluded     = errors.New("payment reference already concluded")
	ErrInvalidAmount          = errors.New("invalid amount")

	// Device errors
	ErrNoDevicesConfigured = errors.New("no terminal devices configured")
	ErrDeviceNotReady      = errors.New("terminal device is not ready")
	ErrInvalidDeviceCode   = errors.New("invalid terminal device code")

	// Gateway errors
	ErrGatewayUnavailable = errors.New("terminal gateway unavailable")
	ErrGatewayTimeout     = errors.New("terminal gateway request timeout")
	ErrGatewayResponse    = errors.New("malformed terminal gateway response")

	// Webhook errors
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingSignature = errors.New("missing webhook signature")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError rejects a single input field before any session state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
