// Package errors defines the application error taxonomy shared by repositories,
// services and HTTP handlers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is the category of an AppError. HTTP handlers map it to a status code.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "not_found"
	ErrCodeConflict     ErrorCode = "conflict"
	ErrCodeValidation   ErrorCode = "validation"
	ErrCodeForeignKey   ErrorCode = "foreign_key"
	ErrCodeInternal     ErrorCode = "internal"
	ErrCodeTimeout      ErrorCode = "timeout"
	ErrCodeCanceled     ErrorCode = "canceled"
	ErrCodeUnauthorized ErrorCode = "unauthorized"
)

// AppError carries a code, a user-facing message and, for validation failures, the offending field.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// NotFound reports a missing resource.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// Conflict reports a clash with existing state.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// ValidationField reports bad input for the named form field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Unauthorized reports rejected credentials or a missing privilege.
func Unauthorized(message string) *AppError {
	return &AppError{Code: ErrCodeUnauthorized, Message: message}
}

// GetCode returns the code of the first AppError in err's chain.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the field of the first AppError in err's chain.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

func IsNotFound(err error) bool     { return GetCode(err) == ErrCodeNotFound }
func IsConflict(err error) bool     { return GetCode(err) == ErrCodeConflict }
func IsValidation(err error) bool   { return GetCode(err) == ErrCodeValidation }
func IsForeignKey(err error) bool   { return GetCode(err) == ErrCodeForeignKey }
func IsInternal(err error) bool     { return GetCode(err) == ErrCodeInternal }
func IsTimeout(err error) bool      { return GetCode(err) == ErrCodeTimeout }
func IsCanceled(err error) bool     { return GetCode(err) == ErrCodeCanceled }
func IsUnauthorized(err error) bool { return GetCode(err) == ErrCodeUnauthorized }
