// Package errors provides structured error types for libcdn.
//
// Every error the CLI or the webhook server reports carries a [Code], so
// callers branch on codes rather than on message text.
//
// # Error Codes
//
// The publish pipeline distinguishes four failure classes:
//   - SOURCE_UNAVAILABLE: a single version's declaration or snapshot could not
//     be fetched. Recovered locally by demoting the version.
//   - STAGING_FAILURE: copying or extracting files for a version failed. Fatal.
//   - TRANSACTION_CONFLICT: the published ref moved while a commit was being
//     prepared. Fatal, never retried automatically.
//   - INVALIDATION_FAILURE: the edge cache purge failed. Reported, but the
//     already committed publish is kept.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidConfig, "unknown source type: %s", kind)
//	if errors.Is(err, errors.ErrCodeInvalidConfig) {
//	    // Handle configuration error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeStagingFailure, origErr, "copy %s", src)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput       Code = "INVALID_INPUT"
	ErrCodeInvalidConfig      Code = "INVALID_CONFIG"
	ErrCodeInvalidDeclaration Code = "INVALID_DECLARATION"
	ErrCodeInvalidLibrary     Code = "INVALID_LIBRARY"
	ErrCodeInvalidPath        Code = "INVALID_PATH"

	// Resource not found errors
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeFileNotFound Code = "FILE_NOT_FOUND"

	// Network errors
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Authentication errors
	ErrCodeUnauthorized Code = "UNAUTHORIZED"

	// Publish pipeline errors
	ErrCodeSourceUnavailable   Code = "SOURCE_UNAVAILABLE"
	ErrCodeStagingFailure      Code = "STAGING_FAILURE"
	ErrCodeTransactionConflict Code = "TRANSACTION_CONFLICT"
	ErrCodeInvalidationFailure Code = "INVALIDATION_FAILURE"
	ErrCodeSyncFailure         Code = "SYNC_FAILURE"
	ErrCodeManifest            Code = "MANIFEST_ERROR"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Fatal reports whether an error of this code must abort a publish run.
// Source and invalidation failures are recovered or reported without
// aborting; everything else stops the pipeline.
func Fatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeSourceUnavailable, ErrCodeInvalidationFailure:
		return false
	default:
		return err != nil
	}
}

// RateLimitedError provides additional information for rate-limited responses.
type RateLimitedError struct {
	RetryAfter int // Seconds to wait before retrying
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}
