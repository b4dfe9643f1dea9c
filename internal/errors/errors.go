// Package errors provides standardized error handling for the listing service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the listing service.
type ErrorCode string

const (
	// Validation and request errors
	LST_VALIDATION  ErrorCode = "LST_VALIDATION"  // General validation error
	LST_BAD_REQUEST ErrorCode = "LST_BAD_REQUEST" // Bad request

	// Upstream marketplace errors
	LST_AUTH         ErrorCode = "LST_AUTH"         // Token refresh against the authorization endpoint failed
	LST_SCHEMA_FETCH ErrorCode = "LST_SCHEMA_FETCH" // Schema fetch failed and no cache tier could satisfy it

	// Inbound authentication/authorization errors
	LST_AUTHN         ErrorCode = "LST_AUTHN"         // Authentication failed
	LST_JWT_INVALID   ErrorCode = "LST_JWT_INVALID"   // Invalid JWT
	LST_JWT_EXPIRED   ErrorCode = "LST_JWT_EXPIRED"   // Expired JWT
	LST_JWT_MALFORMED ErrorCode = "LST_JWT_MALFORMED" // Malformed JWT

	// Resource errors
	LST_NOT_FOUND ErrorCode = "LST_NOT_FOUND" // Resource not found
	LST_CONFLICT  ErrorCode = "LST_CONFLICT"  // Resource conflict

	// Server errors
	LST_INTERNAL    ErrorCode = "LST_INTERNAL"    // Internal server error
	LST_UNAVAILABLE ErrorCode = "LST_UNAVAILABLE" // Service unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case LST_VALIDATION, LST_BAD_REQUEST:
		return http.StatusBadRequest
	case LST_AUTHN, LST_JWT_INVALID, LST_JWT_EXPIRED, LST_JWT_MALFORMED:
		return http.StatusUnauthorized
	case LST_NOT_FOUND:
		return http.StatusNotFound
	case LST_CONFLICT:
		return http.StatusConflict
	case LST_AUTH, LST_SCHEMA_FETCH:
		return http.StatusBadGateway
	case LST_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
