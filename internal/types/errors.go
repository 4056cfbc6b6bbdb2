package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. The prefixes group codes into the agent's error
// families: capture (video source), transport (remote round-trips),
// validation (operator input), playback (alert audio).
const (
	// Capture
	ErrCodeCaptureSourceUnavailable ErrorCode = "capture_source_unavailable"
	ErrCodeCaptureFrameFailed       ErrorCode = "capture_frame_failed"
	ErrCodeCaptureEncodeFailed      ErrorCode = "capture_encode_failed"

	// Transport (502)
	ErrCodeTransportClassifier     ErrorCode = "transport_classifier_unavailable"
	ErrCodeTransportConfigRejected ErrorCode = "transport_config_rejected"
	ErrCodeTransportRateLimited    ErrorCode = "transport_rate_limited"
	ErrCodeTransportDecode         ErrorCode = "transport_invalid_response"

	// Validation (400)
	ErrCodeValidationAngleBounds   ErrorCode = "validation_angle_bounds"
	ErrCodeValidationAlertInterval ErrorCode = "validation_alert_interval"
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"

	// Playback (never surfaced over HTTP; logged only)
	ErrCodePlaybackFailed ErrorCode = "playback_failed"

	// Session lifecycle (409)
	ErrCodeConflictSessionActive   ErrorCode = "conflict_session_active"
	ErrCodeConflictSessionInactive ErrorCode = "conflict_session_inactive"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundOverlay ErrorCode = "not_found_overlay"

	// Internal (500)
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case c == ErrCodeCaptureSourceUnavailable:
		return http.StatusServiceUnavailable
	case strings.HasPrefix(s, "capture_"):
		return http.StatusInternalServerError
	case strings.HasPrefix(s, "transport_"):
		return http.StatusBadGateway
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case c == ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the agent.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
