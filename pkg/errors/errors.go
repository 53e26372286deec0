package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorType classifies an error for clients and status mapping.
type ErrorType string

const (
	ValidationError    ErrorType = "validation_error"
	ProcessingError    ErrorType = "processing_error"
	InternalError      ErrorType = "internal_error"
	NotFoundError      ErrorType = "not_found_error"
	ConflictError      ErrorType = "conflict_error"
	RateLimitError     ErrorType = "rate_limit_error"
	AuthError          ErrorType = "auth_error"
	TimeoutError       ErrorType = "timeout_error"
	ResourceError      ErrorType = "resource_error"
	ConfigurationError ErrorType = "configuration_error"
)

// AppError is the error shape returned by every surface of the toolkit.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	HTTPStatus int                    `json:"http_status"`
	Timestamp  time.Time              `json:"timestamp"`
	TraceID    string                 `json:"trace_id,omitempty"`
	File       string                 `json:"file,omitempty"`
	Line       int                    `json:"line,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	InnerError error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.InnerError
}

// WithContext attaches a key/value pair that is serialized with the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTrace sets the correlation id of the request that failed.
func (e *AppError) WithTrace(traceID string) *AppError {
	e.TraceID = traceID
	return e
}

// New creates an AppError and records the caller location.
func New(errType ErrorType, code, message string) *AppError {
	err := &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(errType),
		Timestamp:  time.Now(),
	}

	if _, file, line, ok := runtime.Caller(1); ok {
		err.File = file
		err.Line = line
	}

	return err
}

// Wrap wraps err, copying its message into Details.
func Wrap(err error, errType ErrorType, code, message string) *AppError {
	appErr := New(errType, code, message)
	appErr.InnerError = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

func Newf(errType ErrorType, code, format string, args ...interface{}) *AppError {
	return New(errType, code, fmt.Sprintf(format, args...))
}

func NewValidationError(message string) *AppError {
	return New(ValidationError, "VALIDATION_FAILED", message)
}

func NewProcessingError(message string) *AppError {
	return New(ProcessingError, "PROCESSING_FAILED", message)
}

func NewInternalError(message string) *AppError {
	return New(InternalError, "INTERNAL_ERROR", message)
}

func NewRateLimitError(message string) *AppError {
	return New(RateLimitError, "RATE_LIMIT_EXCEEDED", message)
}

func NewAuthError(message string) *AppError {
	return New(AuthError, "AUTH_FAILED", message)
}

func NewTimeoutError(operation string) *AppError {
	return New(TimeoutError, "TIMEOUT", fmt.Sprintf("%s operation timed out", operation))
}

// Media specific errors

// NewUnsupportedFormatError reports an input the selected tool cannot read.
func NewUnsupportedFormatError(format string) *AppError {
	return New(ValidationError, "UNSUPPORTED_FORMAT", fmt.Sprintf("format '%s' is not supported by this tool", format))
}

// NewSameFormatError reports a conversion whose target equals the source format.
func NewSameFormatError(format string) *AppError {
	return New(ValidationError, "SAME_FORMAT", fmt.Sprintf("file is already in %s format", format))
}

// NewIdentityTransformError reports parameters that would leave the input unchanged.
func NewIdentityTransformError(message string) *AppError {
	return New(ValidationError, "IDENTITY_TRANSFORM", message)
}

// NewEngineUnavailableError reports a missing or broken transcoding engine.
func NewEngineUnavailableError(err error) *AppError {
	return Wrap(err, ResourceError, "ENGINE_UNAVAILABLE", "transcoding engine could not be loaded")
}

// NewInvocationError reports a transcoding run that exited with an error.
func NewInvocationError(err error) *AppError {
	return Wrap(err, ProcessingError, "INVOCATION_FAILED", "transcoding engine failed to process the file")
}

func NewSessionBusyError(sessionID string) *AppError {
	return New(ConflictError, "SESSION_BUSY", "a transformation is already running").WithContext("session_id", sessionID)
}

// ErrorResponse is the JSON envelope used by the HTTP API.
type ErrorResponse struct {
	Error   *AppError `json:"error"`
	Success bool      `json:"success"`
}

func NewErrorResponse(err *AppError) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Success: false,
	}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case ProcessingError:
		return http.StatusUnprocessableEntity
	case NotFoundError:
		return http.StatusNotFound
	case ConflictError:
		return http.StatusConflict
	case RateLimitError:
		return http.StatusTooManyRequests
	case AuthError:
		return http.StatusUnauthorized
	case TimeoutError:
		return http.StatusRequestTimeout
	case ResourceError:
		return http.StatusInsufficientStorage
	case ConfigurationError, InternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err wraps an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	if appErr, ok := As(err); ok {
		return appErr.Type == errType
	}
	return false
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

func GetHTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
