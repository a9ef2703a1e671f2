// Package errors provides a structured error system for the asset cache with error codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of cache failure.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Capacity and storage errors
	ErrCodeCapacityExceeded  ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeCorruptEntry      ErrorCode = "CORRUPT_ENTRY"
	ErrCodeProtectedEviction ErrorCode = "PROTECTED_EVICTION"
	ErrCodeEntryNotFound     ErrorCode = "ENTRY_NOT_FOUND"
	ErrCodeStoreClosed       ErrorCode = "STORE_CLOSED"

	// Fetch transport errors
	ErrCodeFetchFailed    ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout   ErrorCode = "FETCH_TIMEOUT"
	ErrCodeAssetNotFound  ErrorCode = "ASSET_NOT_FOUND"
	ErrCodeOriginDegraded ErrorCode = "ORIGIN_DEGRADED"

	// Prefetch and optimization errors
	ErrCodePrefetchFailed    ErrorCode = "PREFETCH_FAILED"
	ErrCodeOptimizationError ErrorCode = "OPTIMIZATION_ERROR"

	// Durable store errors
	ErrCodeDurableRead  ErrorCode = "DURABLE_READ"
	ErrCodeDurableWrite ErrorCode = "DURABLE_WRITE"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory groups error codes for reporting.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCapacity      ErrorCategory = "capacity"
	CategoryTransport     ErrorCategory = "transport"
	CategoryPrefetch      ErrorCategory = "prefetch"
	CategoryDurable       ErrorCategory = "durable"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError is a structured error with a code, category, and operational context.
type CacheError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so sentinel comparisons work across wrapping.
func (e *CacheError) Is(target error) bool {
	if other, ok := target.(*CacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// New creates a structured cache error.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a structured cache error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error with an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *CacheError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// GetCategory determines the category for an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CAPACITY_") || strings.HasPrefix(codeStr, "CORRUPT_") ||
		strings.HasPrefix(codeStr, "PROTECTED_") || strings.HasPrefix(codeStr, "ENTRY_") ||
		strings.HasPrefix(codeStr, "STORE_"):
		return CategoryCapacity
	case strings.HasPrefix(codeStr, "FETCH_") || strings.HasPrefix(codeStr, "ASSET_") ||
		strings.HasPrefix(codeStr, "ORIGIN_"):
		return CategoryTransport
	case strings.HasPrefix(codeStr, "PREFETCH_") || strings.HasPrefix(codeStr, "OPTIMIZATION_"):
		return CategoryPrefetch
	case strings.HasPrefix(codeStr, "DURABLE_"):
		return CategoryDurable
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether an error code is safe to retry.
func IsRetryableByDefault(code ErrorCode) bool {
	retryable := map[ErrorCode]bool{
		ErrCodeFetchFailed:      true,
		ErrCodeFetchTimeout:     true,
		ErrCodeOriginDegraded:   true,
		ErrCodeCapacityExceeded: true,
		ErrCodeDurableWrite:     true,
		ErrCodeInternalError:    true,
	}
	return retryable[code]
}

// WithContext adds a contextual key/value pair to the error.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the originating component.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the originating operation.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))
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
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}
