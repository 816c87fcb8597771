package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown      ErrorCode = "UNKNOWN"
	ErrInternal     ErrorCode = "INTERNAL"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrNotFound     ErrorCode = "NOT_FOUND"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigParse ErrorCode = "CONFIG_PARSE"

	// Composition errors (fatal before any filesystem mutation)
	ErrInvalidPath    ErrorCode = "INVALID_PATH"
	ErrLayerConflict  ErrorCode = "LAYER_CONFLICT"
	ErrTemplateRender ErrorCode = "TEMPLATE_RENDER"
	ErrDecryption     ErrorCode = "DECRYPTION"
	ErrArchiveFormat  ErrorCode = "ARCHIVE_FORMAT"
	ErrConfParse      ErrorCode = "CONF_PARSE"

	// Apply and state errors
	ErrCorruptState ErrorCode = "CORRUPT_STATE"
	ErrFileSystem   ErrorCode = "FILESYSTEM"
)

// ConfpackError represents a structured error with code and details
type ConfpackError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *ConfpackError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConfpackError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *ConfpackError) Is(target error) bool {
	var targetErr *ConfpackError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new ConfpackError with the given code and message
func New(code ErrorCode, message string) *ConfpackError {
	return &ConfpackError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new ConfpackError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *ConfpackError {
	return &ConfpackError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a ConfpackError
func Wrap(err error, code ErrorCode, message string) *ConfpackError {
	if err == nil {
		return nil
	}
	return &ConfpackError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *ConfpackError {
	if err == nil {
		return nil
	}
	return &ConfpackError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *ConfpackError) WithDetail(key string, value interface{}) *ConfpackError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithPath is a convenience for the most common detail: the file the
// operation was acting on when it failed.
func (e *ConfpackError) WithPath(path string) *ConfpackError {
	return e.WithDetail("path", path)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var cpErr *ConfpackError
	if errors.As(err, &cpErr) {
		return cpErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if not a ConfpackError
func GetErrorCode(err error) ErrorCode {
	var cpErr *ConfpackError
	if errors.As(err, &cpErr) {
		return cpErr.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details from an error, or nil if not a ConfpackError
func GetErrorDetails(err error) map[string]interface{} {
	var cpErr *ConfpackError
	if errors.As(err, &cpErr) {
		return cpErr.Details
	}
	return nil
}
