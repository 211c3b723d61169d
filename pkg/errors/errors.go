// Package errors provides the error taxonomy shared by the store, the remote
// adapter and the write path.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an error
type ErrorCode string

const (
	// Local store unavailable or corrupt
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Transport failure talking to the remote
	ErrNetwork ErrorCode = "NETWORK_ERROR"

	// Remote answered but refused the request
	ErrRemoteRejection ErrorCode = "REMOTE_REJECTION"

	// Caller supplied invalid input; nothing was written
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	ErrNotFound ErrorCode = "NOT_FOUND"

	// Generic failure reported to a manual sync caller
	ErrSyncFailed ErrorCode = "SYNC_FAILED"
)

// AppError carries a code, a message and an optional cause
type AppError struct {
	Code    ErrorCode
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

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// an empty code.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
