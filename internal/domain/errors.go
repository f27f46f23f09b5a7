package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Checkout Errors
	ErrorCodeEmptyCharge    ErrorCode = "EMPTY_CHARGE"
	ErrorCodeAlreadyHandled ErrorCode = "ALREADY_HANDLED"
	ErrorCodeInvalidReturn  ErrorCode = "INVALID_RETURN"

	// Ledger Errors
	ErrorCodePersistence     ErrorCode = "PERSISTENCE_ERROR"
	ErrorCodePaymentNotFound ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodeVersionConflict ErrorCode = "VERSION_CONFLICT"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrorCodeGatewayProtocol    ErrorCode = "GATEWAY_PROTOCOL_ERROR"

	// Capture Errors
	ErrorCodePendingCapture ErrorCode = "PENDING_CAPTURE"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so wrapped copies of the
// sentinels below still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// WithDetail returns a copy of the error with an extra detail field.
// Sentinels are shared, so the receiver is never mutated.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Code: e.Code, Message: e.Message, Err: e.Err, Details: details}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayUnavailable ||
		code == ErrorCodeGatewayProtocol
}

// IsRetryable reports whether a later sweep may succeed where this attempt failed.
func IsRetryable(err error) bool {
	code := GetErrorCode(err)
	return IsGatewayError(err) ||
		code == ErrorCodePendingCapture ||
		code == ErrorCodeVersionConflict
}

var (
	ErrEmptyCharge    = NewDomainError(ErrorCodeEmptyCharge, "nothing payable by this method")
	ErrAlreadyHandled = NewDomainError(ErrorCodeAlreadyHandled, "purchase already handled by another processor")
	ErrInvalidReturn  = NewDomainError(ErrorCodeInvalidReturn, "gateway return failed validation")

	ErrPersistence     = NewDomainError(ErrorCodePersistence, "payment ledger write failed")
	ErrPaymentNotFound = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrVersionConflict = NewDomainError(ErrorCodeVersionConflict, "payment was modified concurrently")

	ErrGatewayUnavailable = NewDomainError(ErrorCodeGatewayUnavailable, "payment gateway unavailable")
	ErrGatewayProtocol    = NewDomainError(ErrorCodeGatewayProtocol, "malformed payment gateway response")

	ErrPendingCapture = NewDomainError(ErrorCodePendingCapture, "capture not settled, retry later")

	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")
)
