package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Base error types
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
	ErrVerificationFailed  = errors.New("provisioning verification failed")
	ErrProvisioningFailed  = errors.New("provisioning failed")
	ErrEntitlementRequired = errors.New("entitlement required")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeTransient    ErrorType = "transient"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeVerification ErrorType = "verification"
	ErrorTypeInternal     ErrorType = "internal"
)

// AppError is a structured error for I/O-facing operations.
type AppError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "fetch_rates", "create_access")
	Subject   string // Entity the operation was acting on, if any
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *AppError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrConflict:
		return e.Type == ErrorTypeConflict
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrForbidden:
		return e.Type == ErrorTypeAuth || e.Type == ErrorTypeForbidden
	case ErrConnectionFailed:
		return e.Type == ErrorTypeTransient
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrVerificationFailed:
		return e.Type == ErrorTypeVerification
	}

	return errors.Is(e.Err, target)
}

// New creates a new AppError
func New(errorType ErrorType, op, subject string, err error) *AppError {
	return &AppError{
		Type:      errorType,
		Op:        op,
		Subject:   subject,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeTransient:
		return true
	case ErrorTypeAuth, ErrorTypeForbidden, ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeConflict, ErrorTypeVerification:
		return false
	default:
		if err != nil {
			return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrForbidden)
		}
		return true
	}
}

// ValidationError is a field-level validation failure surfaced to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is lets callers match any validation failure with errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Helper functions

// WrapTransient wraps a network or storage error that may succeed on retry.
func WrapTransient(op, subject string, err error) error {
	return New(ErrorTypeTransient, op, subject, err)
}

// WrapAuth wraps an authentication error with context
func WrapAuth(op, subject string, err error) error {
	return New(ErrorTypeAuth, op, subject, err)
}

// WrapVerification wraps a read-after-write verification failure.
func WrapVerification(op, subject string, err error) error {
	return New(ErrorTypeVerification, op, subject, err)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return errors.Is(err, ErrConnectionFailed)
}

// AsValidation extracts a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrorTypeAuth {
		return true
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	return strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "forbidden")
}
