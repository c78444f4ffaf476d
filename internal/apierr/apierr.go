// Package apierr defines the gateway-originated error taxonomy and the
// stable JSON envelope returned to clients:
//
//	{"error":"<code>","message":"...","retryAfter":12}
//
// Backend-originated error bodies are never wrapped in this envelope; they
// pass through the dispatcher verbatim.
package apierr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error codes for every failure mode the gateway itself can produce.
const (
	CodeRateLimited           = "rate_limited"
	CodeCredentialRequired    = "credential_required"
	CodeCredentialInvalid     = "credential_invalid"
	CodeInsufficientPrivilege = "insufficient_privilege"
	CodeRouteNotFound         = "route_not_found"
	CodeCapabilityUnavailable = "capability_unavailable"
	CodeCapabilityTimeout     = "capability_timeout"
	CodeInternal              = "internal_error"
)

// Error is a classified gateway failure ready to be written to a client.
type Error struct {
	Status     int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// New builds an Error with the given status, code, and message.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// RateLimited builds the 429 error carrying a retry-after hint in seconds.
func RateLimited(retryAfter int) *Error {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &Error{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded, retry later",
		RetryAfter: retryAfter,
	}
}

// CredentialRequired builds the 401 error for a missing bearer credential.
func CredentialRequired() *Error {
	return New(http.StatusUnauthorized, CodeCredentialRequired, "credential required")
}

// CredentialInvalid builds the 401 error for a bad or expired credential.
func CredentialInvalid() *Error {
	return New(http.StatusUnauthorized, CodeCredentialInvalid, "invalid or expired credential")
}

// InsufficientPrivilege builds the 403 error for a role mismatch.
func InsufficientPrivilege() *Error {
	return New(http.StatusForbidden, CodeInsufficientPrivilege, "insufficient privilege")
}

// RouteNotFound builds the 404 error for an unrouted path.
func RouteNotFound(path string) *Error {
	return New(http.StatusNotFound, CodeRouteNotFound, "no route for "+path)
}

// CapabilityUnavailable builds the 503 error naming the unreachable capability.
func CapabilityUnavailable(capability string) *Error {
	return New(http.StatusServiceUnavailable, CodeCapabilityUnavailable, "capability "+capability+" is unavailable")
}

// CapabilityTimeout builds the 504 error naming the capability that timed out.
func CapabilityTimeout(capability string) *Error {
	return New(http.StatusGatewayTimeout, CodeCapabilityTimeout, "capability "+capability+" timed out")
}

// Internal builds the generic 500 error. detail is included only when the
// development flag is set; otherwise the client sees a fixed message.
func Internal(detail string, dev bool) *Error {
	msg := "internal gateway error"
	if dev && detail != "" {
		msg = detail
	}
	return New(http.StatusInternalServerError, CodeInternal, msg)
}

// Write renders e as the JSON envelope with its HTTP status. A Retry-After
// header accompanies rate-limit responses so generic clients honour it too.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}
