package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// Common errors
var (
	ErrNotFound             = &AppError{Code: http.StatusNotFound, Message: "Resource not found"}
	ErrBadRequest           = &AppError{Code: http.StatusBadRequest, Message: "Bad request"}
	ErrInternalServer       = &AppError{Code: http.StatusInternalServerError, Message: "Internal server error"}
	ErrInvalidTransition    = &AppError{Code: http.StatusConflict, Message: "Invalid alert state transition"}
	ErrEvaluationInProgress = &AppError{Code: http.StatusConflict, Message: "Rule evaluation already in progress"}
)

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to an error
func WithDetails(err *AppError, details string) *AppError {
	return &AppError{
		Code:    err.Code,
		Message: err.Message,
		Details: details,
	}
}

// Is reports whether target carries the same code and message, so wrapped
// sentinels created with WithDetails still match.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetStatusCode returns the HTTP status code from an error
func GetStatusCode(err error) int {
	var (
		appErr      *AppError
		configErr   *ConfigurationError
		evalErr     *EvaluationError
		conflictErr *ConcurrencyConflict
		deliveryErr *DeliveryError
	)

	switch {
	case stderrors.As(err, &appErr):
		return appErr.Code
	case stderrors.As(err, &configErr):
		return http.StatusBadRequest
	case stderrors.As(err, &conflictErr):
		return http.StatusConflict
	case stderrors.As(err, &evalErr):
		return http.StatusBadGateway
	case stderrors.As(err, &deliveryErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// NotFound wraps ErrNotFound with the kind and id of the missing entity.
func NotFound(kind, id string) *AppError {
	return WithDetails(ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}
