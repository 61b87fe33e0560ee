package server

import (
	"fmt"
	"net/http"
	"net/url"
)

// OAuth error codes from RFC 6749, plus the engine-specific codes for
// request-shape failures and unknown refresh tokens.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidScope   = "invalid_scope"
	ErrorCodeBadRequest     = "bad_request"
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeInvalidClient  = "invalid_client"
	ErrorCodeAccessDenied   = "access_denied"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeServerError    = "server_error"
)

// Error represents an OAuth 2.0 protocol error response.
type Error struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new protocol error.
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Constructors for the error vocabulary. Grouped by HTTP status.
var (
	// ErrInvalidRequest indicates a malformed request or missing
	// required parameters.
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidScope indicates a scope request that cannot be
	// granted, such as escalation beyond the permitted set.
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrBadRequest indicates a structurally malformed identifier or
	// other unparseable input.
	ErrBadRequest = func(desc string) *Error {
		return NewError(ErrorCodeBadRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates an invalid, expired, or mismatched
	// code or token, or a grant type the client is not configured for.
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates that no client identity could be
	// resolved at the token endpoint.
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrAccessDenied indicates failed client authentication.
	ErrAccessDenied = func(desc string) *Error {
		return NewError(ErrorCodeAccessDenied, desc, http.StatusUnauthorized)
	}

	// ErrUnauthorized indicates failed resource-owner authentication
	// in the owner credentials flow.
	ErrUnauthorized = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorized, desc, http.StatusUnauthorized)
	}

	// ErrNotFound indicates an unknown refresh token value.
	ErrNotFound = func(desc string) *Error {
		return NewError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}

	// ErrServerError indicates an internal failure.
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// RedirectError is a protocol error that must be delivered to the
// client via redirect because a redirect target was already
// established when the failure occurred. Authorization Code flow
// errors travel in the query string, Implicit flow errors in the
// fragment.
type RedirectError struct {
	Err         *Error
	RedirectURI *url.URL
	Fragment    bool
	State       string
}

// Error implements the error interface.
func (e *RedirectError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying protocol error.
func (e *RedirectError) Unwrap() error {
	return e.Err
}

// URL builds the full redirect target carrying the error response.
func (e *RedirectError) URL() string {
	params := url.Values{}
	params.Set("error", e.Err.Code)
	if e.Err.Description != "" {
		params.Set("error_description", e.Err.Description)
	}
	if e.State != "" {
		params.Set("state", e.State)
	}

	if e.Fragment {
		// Appended pre-encoded; assigning url.URL.Fragment would
		// re-escape the percent encoding.
		return e.RedirectURI.String() + "#" + params.Encode()
	}

	target := *e.RedirectURI
	query := target.Query()
	for key, values := range params {
		for _, v := range values {
			query.Set(key, v)
		}
	}
	target.RawQuery = query.Encode()
	return target.String()
}

// redirectErr wraps a protocol error for post-redirect delivery.
func redirectErr(err *Error, target *url.URL, fragment bool, state string) *RedirectError {
	return &RedirectError{
		Err:         err,
		RedirectURI: target,
		Fragment:    fragment,
		State:       state,
	}
}
