package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeFileSystem ErrorType = "filesystem"
	ErrorTypeInjection  ErrorType = "injection"
	ErrorTypeArchive    ErrorType = "archive"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes shared across packages.
const (
	CodeConfigMissing = "CONFIG_MISSING"
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeStageFailed   = "STAGE_FAILED"
	CodeSyncFailed    = "SYNC_FAILED"
	CodeManifestWrite = "MANIFEST_WRITE"
	CodeArchiveWrite  = "ARCHIVE_WRITE"
	CodeArchiveLimit  = "ARCHIVE_LIMIT"
	CodeInjectFailed  = "INJECT_FAILED"
	CodePathOutside   = "PATH_OUTSIDE_ROOT"
	CodeServeFailed   = "SERVE_FAILED"
)

// LarrixError is a structured error type with context.
type LarrixError struct {
	Type    ErrorType
	Code    string
	Op      string
	Path    string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *LarrixError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Op != "" {
		parts = append(parts, e.Op+":")
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *LarrixError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *LarrixError) Is(target error) bool {
	var t *LarrixError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *LarrixError) WithContext(key string, value interface{}) *LarrixError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file the failure is about.
func (e *LarrixError) WithPath(path string) *LarrixError {
	e.Path = path

	return e
}

// WithOp records the operation that failed.
func (e *LarrixError) WithOp(op string) *LarrixError {
	e.Op = op

	return e
}

// Error creation functions

// NewConfigError creates a configuration error. Configuration errors are
// fatal and are raised before anything on disk is touched.
func NewConfigError(code, message string, cause error) *LarrixError {
	return &LarrixError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewFileSystemError creates an error for a failed read, write or removal.
func NewFileSystemError(code, message string, cause error) *LarrixError {
	return &LarrixError{
		Type:    ErrorTypeFileSystem,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInjectionError creates a bootstrap injection error.
func NewInjectionError(message string, cause error) *LarrixError {
	return &LarrixError{
		Type:    ErrorTypeInjection,
		Code:    CodeInjectFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewArchiveError creates an archive encoding error.
func NewArchiveError(code, message string, cause error) *LarrixError {
	return &LarrixError{
		Type:    ErrorTypeArchive,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *LarrixError {
	return &LarrixError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// TypeOf reports the category of err, or "" when err carries none.
func TypeOf(err error) ErrorType {
	var le *LarrixError
	if errors.As(err, &le) {
		return le.Type
	}

	return ""
}

// IsConfig checks if an error is a configuration error.
func IsConfig(err error) bool {
	return TypeOf(err) == ErrorTypeConfig
}

// IsFileSystem checks if an error is a filesystem error.
func IsFileSystem(err error) bool {
	return TypeOf(err) == ErrorTypeFileSystem
}

// IsInjection checks if an error is a bootstrap injection error.
func IsInjection(err error) bool {
	return TypeOf(err) == ErrorTypeInjection
}

// IsArchive checks if an error is an archive error.
func IsArchive(err error) bool {
	return TypeOf(err) == ErrorTypeArchive
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }
