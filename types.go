package kangaroo

// TokenResponse is the RFC 6749 Section 5.1 token response wire form.
type TokenResponse struct {
	// AccessToken is the issued bearer token value.
	AccessToken string `json:"access_token"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`

	// RefreshToken is the companion refresh token, when the grant
	// issues one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the granted scope list in space-delimited form. Omitted
	// for zero-scope grants.
	Scope string `json:"scope,omitempty"`

	// State echoes the client-supplied state parameter.
	State string `json:"state,omitempty"`
}

// ErrorResponse is the RFC 6749 Section 5.2 error response wire form.
type ErrorResponse struct {
	// Error is the protocol error code.
	Error string `json:"error"`

	// ErrorDescription provides additional human-readable detail.
	ErrorDescription string `json:"error_description,omitempty"`
}
