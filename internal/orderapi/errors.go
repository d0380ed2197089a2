package orderapi

import (
	"errors"
	"fmt"
	"net/http"

	"usbforge/internal/services"
)

// Backend and transport error codes.
const (
	CodeMissingAPIKey      = "MISSING_API_KEY"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServerError        = "SERVER_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeConnectionError    = "CONNECTION_ERROR"
	CodeRequestFailed      = "REQUEST_FAILED"
)

// APIError describes a failed backend call.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("order api %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("order api %s: %s", e.Code, e.Message)
}

// Unwrap classifies the failure with the shared service markers.
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == CodeMissingAPIKey || e.Code == CodeInvalidAPIKey:
		return services.ErrConfiguration
	case e.Code == CodeTimeout:
		return services.ErrTimeout
	case e.Retryable:
		return services.ErrTransient
	case e.StatusCode == http.StatusNotFound:
		return services.ErrNotFound
	default:
		return services.ErrExternalTool
	}
}

// IsRetryable reports whether err is an APIError marked retryable.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// statusError maps an HTTP failure status plus the decoded envelope to an APIError.
func statusError(status int, env envelope) *APIError {
	message := env.Error
	if message == "" {
		message = env.Message
	}
	if message == "" {
		message = http.StatusText(status)
	}
	apiErr := &APIError{StatusCode: status, Message: message}
	switch status {
	case http.StatusUnauthorized:
		apiErr.Code = CodeInvalidAPIKey
	case http.StatusTooManyRequests:
		apiErr.Code = CodeRateLimited
		apiErr.Retryable = true
	case http.StatusInternalServerError:
		apiErr.Code = CodeServerError
		apiErr.Retryable = true
	case http.StatusServiceUnavailable:
		apiErr.Code = CodeServiceUnavailable
		apiErr.Retryable = true
	default:
		apiErr.Code = env.Code
		if apiErr.Code == "" {
			apiErr.Code = CodeRequestFailed
		}
	}
	return apiErr
}
