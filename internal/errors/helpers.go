package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an API error for external platform calls. The status
// code decides retryability: 5xx and 429 are transient, every other 4xx is
// terminal. 408 intentionally stays terminal to match the documented
// retryable-status boundary.
func NewAPIError(platform, endpoint string, statusCode int, err error) *AppError {
	var code ErrorCode

	switch platform {
	case "facebook":
		code = ErrCodeFacebookAPI
	case "twitter":
		code = ErrCodeTwitterAPI
	case "linkedin":
		code = ErrCodeLinkedInAPI
	default:
		code = ErrCodeInternalError
	}

	appErr := Wrap(err, code, fmt.Sprintf("%s API call failed", platform)).
		WithContext("platform", platform).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if IsRetryableStatus(statusCode) {
		appErr.Retryable = true
	}

	return appErr
}

// IsRetryableStatus reports whether an HTTP status is worth retrying.
func IsRetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == 429
}

// NewCredentialError creates a non-retryable credential failure. The
// message must never contain token material; callers log the security
// event separately with masked payloads.
func NewCredentialError(code ErrorCode, message string) *AppError {
	return New(code, message).
		WithUserMessage("Account connection problem, please reconnect the account")
}

// NewCircuitOpenError creates the short-circuit error raised when a
// service's circuit is open.
func NewCircuitOpenError(service string) *AppError {
	return New(ErrCodeCircuitOpen, fmt.Sprintf("circuit open for %s", service)).
		WithContext("service", service).
		WithUserMessage("Service temporarily unavailable")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}
