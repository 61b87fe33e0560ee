package kangaroo

import "github.com/kangaroo-oauth/kangaroo/server"

// Error is the OAuth 2.0 protocol error type, aliased from the server
// package so HTTP-layer callers need only the root import.
type Error = server.Error

// RedirectError is a protocol error delivered via redirect.
type RedirectError = server.RedirectError

// OAuth error codes.
const (
	ErrorCodeInvalidRequest = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidScope   = server.ErrorCodeInvalidScope
	ErrorCodeBadRequest     = server.ErrorCodeBadRequest
	ErrorCodeInvalidGrant   = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient  = server.ErrorCodeInvalidClient
	ErrorCodeAccessDenied   = server.ErrorCodeAccessDenied
	ErrorCodeUnauthorized   = server.ErrorCodeUnauthorized
	ErrorCodeNotFound       = server.ErrorCodeNotFound
	ErrorCodeServerError    = server.ErrorCodeServerError
)

// Error constructors, re-exported from the server package.
var (
	NewError          = server.NewError
	ErrInvalidRequest = server.ErrInvalidRequest
	ErrInvalidScope   = server.ErrInvalidScope
	ErrBadRequest     = server.ErrBadRequest
	ErrInvalidGrant   = server.ErrInvalidGrant
	ErrInvalidClient  = server.ErrInvalidClient
	ErrAccessDenied   = server.ErrAccessDenied
	ErrUnauthorized   = server.ErrUnauthorized
	ErrNotFound       = server.ErrNotFound
	ErrServerError    = server.ErrServerError
)
