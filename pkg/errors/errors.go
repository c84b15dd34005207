// Package errors provides a structured error system for the optimization
// layer with error codes, categories, and wrapped causes.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure within the optimization layer.
type ErrorCode string

// Error code constants grouped by subsystem.
const (
	// Cache errors
	ErrCodeSerializationFailure    ErrorCode = "SERIALIZATION_FAILURE"
	ErrCodeCapacityExceeded        ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeBackingStoreUnavailable ErrorCode = "BACKING_STORE_UNAVAILABLE"

	// Load balancer errors
	ErrCodeNoServersAvailable    ErrorCode = "NO_SERVERS_AVAILABLE"
	ErrCodePredictionUnavailable ErrorCode = "PREDICTION_UNAVAILABLE"

	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryCache         ErrorCategory = "cache"
	CategoryBalancer      ErrorCategory = "balancer"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// Error is a structured error carrying a code, category, and optional cause.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable hints that the caller may retry the operation, typically
	// with backoff. NO_SERVERS_AVAILABLE is the canonical example.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so sentinel comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *Error) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// New creates a new structured error with defaults derived from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeSerializationFailure, ErrCodeCapacityExceeded, ErrCodeBackingStoreUnavailable:
		return CategoryCache
	case ErrCodeNoServersAvailable, ErrCodePredictionUnavailable:
		return CategoryBalancer
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeAlreadyStarted, ErrCodeNotInitialized:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether an error code is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeCapacityExceeded, ErrCodeBackingStoreUnavailable, ErrCodeNoServersAvailable:
		return true
	default:
		return false
	}
}

// WithContext adds contextual information to an error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Sentinel errors for the most common comparisons. Matching is by code,
// so errors.Is works against any *Error carrying the same code.
var (
	ErrSerializationFailure    = New(ErrCodeSerializationFailure, "value could not be encoded or decoded")
	ErrCapacityExceeded        = New(ErrCodeCapacityExceeded, "cache capacity exceeded")
	ErrBackingStoreUnavailable = New(ErrCodeBackingStoreUnavailable, "bulk tier backing store unavailable")
	ErrNoServersAvailable      = New(ErrCodeNoServersAvailable, "no servers available for selection")
	ErrPredictionUnavailable   = New(ErrCodePredictionUnavailable, "insufficient history for load prediction")
)

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if oe, ok := err.(*Error); ok && oe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
