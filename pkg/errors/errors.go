// Package errors provides the structured error type shared by every SwiftFS layer.
package errors

import (
	"encoding/json"
	stderr "errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrorCode identifies the kind of failure.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Transport
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"

	// Object store
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeObjectExists   ErrorCode = "OBJECT_EXISTS"

	// Virtual file layer
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeIsDirectory      ErrorCode = "IS_DIRECTORY"
	ErrCodeNotDirectory     ErrorCode = "NOT_DIRECTORY"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"

	// Operation
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeOperationCanceled    ErrorCode = "OPERATION_CANCELED"

	// Identity
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"

	// Internal
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups codes for reporting.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryTransport     ErrorCategory = "transport"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// Context keys used across packages.
const (
	ContextPath      = "path"
	ContextContainer = "container"
	ContextMode      = "mode"
)

// SwiftFSError is a structured error with enough context to diagnose a failed
// request: the code, the object path and the HTTP status when one exists.
type SwiftFSError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
	HTTPStatus int  `json:"http_status,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *SwiftFSError) Error() string {
	msg := e.Message
	if path, ok := e.Context[ContextPath]; ok && path != "" {
		msg = fmt.Sprintf("%s (path %q)", msg, path)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *SwiftFSError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a SwiftFSError with the same code.
func (e *SwiftFSError) Is(target error) bool {
	if t, ok := target.(*SwiftFSError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *SwiftFSError) String() string {
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
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.HTTPStatus != 0 {
		parts = append(parts, fmt.Sprintf("HTTPStatus=%d", e.HTTPStatus))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("SwiftFSError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON document.
func (e *SwiftFSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates an error with the defaults associated with code.
func NewError(code ErrorCode, message string) *SwiftFSError {
	return &SwiftFSError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf is NewError with a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *SwiftFSError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory maps a code to its category.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeNetworkError, ErrCodeConnectionTimeout:
		return CategoryTransport
	case ErrCodeObjectNotFound, ErrCodeObjectExists:
		return CategoryStorage
	case ErrCodePermissionDenied, ErrCodeIsDirectory, ErrCodeNotDirectory, ErrCodeInvalidState:
		return CategoryFilesystem
	case ErrCodeValidationFailed, ErrCodeUnsupportedOperation, ErrCodeOperationCanceled:
		return CategoryOperation
	case ErrCodeAuthenticationFailed:
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether code is worth retrying. Only a
// configured retry policy acts on it; nothing retries on its own.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNetworkError, ErrCodeConnectionTimeout:
		return true
	}
	return false
}

// IsUserFacingByDefault reports whether the message is meant for end users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeInternalError, ErrCodeNetworkError:
		return false
	}
	return true
}

// GetDefaultHTTPStatus returns the HTTP status conventionally paired with code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:        400,
		ErrCodeValidationFailed:     400,
		ErrCodeAuthenticationFailed: 401,
		ErrCodePermissionDenied:     403,
		ErrCodeObjectNotFound:       404,
		ErrCodeObjectExists:         409,
		ErrCodeIsDirectory:          409,
		ErrCodeNotDirectory:         409,
		ErrCodeInvalidState:         409,
		ErrCodeUnsupportedOperation: 501,
		ErrCodeNetworkError:         502,
		ErrCodeConnectionTimeout:    504,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// CaptureStack captures the caller's stack for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds a context key.
func (e *SwiftFSError) WithContext(key, value string) *SwiftFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithPath records the object path the error concerns.
func (e *SwiftFSError) WithPath(path string) *SwiftFSError {
	return e.WithContext(ContextPath, path)
}

// WithDetail adds a detail value.
func (e *SwiftFSError) WithDetail(key string, value interface{}) *SwiftFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *SwiftFSError) WithComponent(component string) *SwiftFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *SwiftFSError) WithOperation(operation string) *SwiftFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *SwiftFSError) WithCause(cause error) *SwiftFSError {
	e.Cause = cause
	return e
}

// WithRequestID sets the request id sent to the store.
func (e *SwiftFSError) WithRequestID(id string) *SwiftFSError {
	e.RequestID = id
	return e
}

// WithStack captures the current stack trace.
func (e *SwiftFSError) WithStack() *SwiftFSError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a hint for fixing the error.
func (e *SwiftFSError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeAuthenticationFailed: "Verify the identity URL, auth version, tenant and credentials, " +
			"and that the service catalog lists an object-store endpoint for the configured region.",
		ErrCodeNetworkError: "The object store answered with an error or could not be reached. " +
			"Check the HTTP status in the error details.",
		ErrCodeConnectionTimeout: "Connecting to the object store timed out. " +
			"Check network reachability or raise network.timeouts.connect.",
		ErrCodeObjectNotFound: "The object does not exist in the container. " +
			"Verify the container and object name.",
		ErrCodeObjectExists: "Exclusive create found an existing object. " +
			"Open with mode w or c to replace it.",
		ErrCodePermissionDenied: "The handle's open mode does not allow this operation. " +
			"Reopen the path with a mode granting the access you need.",
		ErrCodeIsDirectory: "The path is a pseudo-directory. Use rmdir to remove it.",
		ErrCodeNotDirectory: "The path is not a pseudo-directory. Use unlink to remove it.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check the configuration file syntax and required parameters.",
		ErrCodeUnsupportedOperation: "The object store cannot express this operation.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// UserFacingMessage returns a short message suitable for end users.
func (e *SwiftFSError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred. Please contact support if this persists."
	}

	messages := map[ErrorCode]string{
		ErrCodeAuthenticationFailed: "Authentication failed",
		ErrCodeConnectionTimeout:    "Connection to the object store timed out",
		ErrCodeObjectNotFound:       "File not found",
		ErrCodeObjectExists:         "File already exists",
		ErrCodePermissionDenied:     "Permission denied",
		ErrCodeIsDirectory:          "Is a directory",
		ErrCodeNotDirectory:         "Not a directory",
		ErrCodeInvalidConfig:        "Invalid configuration",
		ErrCodeUnsupportedOperation: "Operation not supported",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}

	return e.Message
}

// DetailedDiagnostic returns a multi-line diagnostic.
func (e *SwiftFSError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}
	if e.HTTPStatus != 0 {
		parts = append(parts, "HTTP status: "+strconv.Itoa(e.HTTPStatus))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}

// NewTransportError builds the error for a failed store request. A zero
// status means the request never produced a response.
func NewTransportError(status int, message string) *SwiftFSError {
	err := NewError(ErrCodeNetworkError, message)
	err.HTTPStatus = status
	if status != 0 {
		err.Retryable = status >= 500
		err.WithDetail("http_status", status)
	}
	return err
}

// NewNotFoundError builds the 404 error for path.
func NewNotFoundError(path string) *SwiftFSError {
	return NewError(ErrCodeObjectNotFound, "object not found").WithPath(path)
}

// NewUnsupportedError builds the error for an operation the store cannot express.
func NewUnsupportedError(operation string) *SwiftFSError {
	return NewError(ErrCodeUnsupportedOperation, operation+" is not supported").WithOperation(operation)
}

// As returns the SwiftFSError in err's chain, if any.
func As(err error) (*SwiftFSError, bool) {
	var sfErr *SwiftFSError
	if stderr.As(err, &sfErr) {
		return sfErr, true
	}
	return nil, false
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	sfErr, ok := As(err)
	return ok && sfErr.Code == code
}

// IsNotFound reports whether err is an OBJECT_NOT_FOUND error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeObjectNotFound)
}

// HTTPStatusOf returns the HTTP status recorded on err, or 0.
func HTTPStatusOf(err error) int {
	if sfErr, ok := As(err); ok {
		return sfErr.HTTPStatus
	}
	return 0
}
