package storage

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ClientType identifies which OAuth 2.0 grant flow a client is
// registered for. A client participates in exactly one flow.
type ClientType string

const (
	// ClientTypeAuthorizationGrant is a client using the Authorization
	// Code flow (RFC 6749 Section 4.1).
	ClientTypeAuthorizationGrant ClientType = "AuthorizationGrant"

	// ClientTypeImplicit is a browser-based public client using the
	// Implicit flow (RFC 6749 Section 4.2).
	ClientTypeImplicit ClientType = "Implicit"

	// ClientTypeOwnerCredentials is a client using the Resource Owner
	// Password Credentials flow (RFC 6749 Section 4.3).
	ClientTypeOwnerCredentials ClientType = "OwnerCredentials"

	// ClientTypeClientCredentials is a client using the Client
	// Credentials flow (RFC 6749 Section 4.4). Tokens issued to such
	// clients never carry a user identity.
	ClientTypeClientCredentials ClientType = "ClientCredentials"
)

// Valid reports whether t is one of the defined client types.
func (t ClientType) Valid() bool {
	switch t {
	case ClientTypeAuthorizationGrant, ClientTypeImplicit,
		ClientTypeOwnerCredentials, ClientTypeClientCredentials:
		return true
	}
	return false
}

// TokenType identifies the role of an issued token.
type TokenType string

const (
	// TokenTypeAuthorization is a short-lived authorization code,
	// exchanged exactly once for a bearer token.
	TokenTypeAuthorization TokenType = "Authorization"

	// TokenTypeBearer is an access token usable against protected
	// resources.
	TokenTypeBearer TokenType = "Bearer"

	// TokenTypeRefresh is a long-lived, one-time-use credential for
	// obtaining a new bearer/refresh pair.
	TokenTypeRefresh TokenType = "Refresh"
)

// Client configuration keys for per-client token lifetime overrides.
// Values are decimal seconds.
const (
	ConfigAccessTokenExpiresIn       = "access_token_expires_in"
	ConfigRefreshTokenExpiresIn      = "refresh_token_expires_in"
	ConfigAuthorizationCodeExpiresIn = "authorization_code_expires_in"

	// ConfigAuthenticator names the external authenticator bound to a
	// client for browser-based flows.
	ConfigAuthenticator = "authenticator"
)

// Default token lifetimes (RFC 6749 recommendations).
const (
	DefaultAccessTokenExpiresIn       = 600 * time.Second
	DefaultRefreshTokenExpiresIn      = 2592000 * time.Second
	DefaultAuthorizationCodeExpiresIn = 600 * time.Second
)

// Client is a registered application acting as an OAuth 2.0 client.
type Client struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	Name          string
	Type          ClientType

	// SecretHash is the bcrypt hash of the client secret. Empty for
	// public clients, which authenticate by client_id alone.
	SecretHash string

	// RedirectURIs are the registered redirect targets, in
	// registration order.
	RedirectURIs []string

	// ReferrerURIs restrict which origins may drive browser-based
	// flows. Empty means no referrer restriction.
	ReferrerURIs []string

	// Config holds per-client overrides such as token lifetimes and
	// the bound authenticator. See the Config* key constants.
	Config map[string]string

	CreatedAt time.Time
}

// Public reports whether the client authenticates without a secret.
func (c *Client) Public() bool {
	return c.SecretHash == ""
}

// AccessTokenExpiresIn returns the client's access token lifetime,
// falling back to the RFC default.
func (c *Client) AccessTokenExpiresIn() time.Duration {
	return c.configDuration(ConfigAccessTokenExpiresIn, DefaultAccessTokenExpiresIn)
}

// RefreshTokenExpiresIn returns the client's refresh token lifetime,
// falling back to the RFC default.
func (c *Client) RefreshTokenExpiresIn() time.Duration {
	return c.configDuration(ConfigRefreshTokenExpiresIn, DefaultRefreshTokenExpiresIn)
}

// AuthorizationCodeExpiresIn returns the client's authorization code
// lifetime, falling back to the RFC default.
func (c *Client) AuthorizationCodeExpiresIn() time.Duration {
	return c.configDuration(ConfigAuthorizationCodeExpiresIn, DefaultAuthorizationCodeExpiresIn)
}

// Authenticator returns the name of the external authenticator bound
// to this client, or "" when none is configured.
func (c *Client) Authenticator() string {
	return c.Config[ConfigAuthenticator]
}

func (c *Client) configDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := c.Config[key]
	if !ok {
		return fallback
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Token is an issued credential. Its ID doubles as the opaque token
// value on the wire.
type Token struct {
	ID       uuid.UUID
	Type     TokenType
	ClientID uuid.UUID

	// UserID is the resource owner the token was issued for. Nil only
	// for tokens issued to ClientCredentials clients.
	UserID *uuid.UUID

	IssuedAt  time.Time
	ExpiresIn time.Duration

	// RedirectURI is set only on Authorization tokens and records the
	// exact redirect target the code was bound to at issuance.
	RedirectURI string

	// AuthTokenID links a Refresh token back to the Bearer token it
	// was derived from. Required for Refresh tokens, nil otherwise.
	AuthTokenID *uuid.UUID

	// Scopes is the granted scope snapshot, a subset of the permitted
	// set at issuance time.
	Scopes []string

	// SessionID links the token to a browser session, when the token
	// was issued through the Implicit flow.
	SessionID *uuid.UUID

	// Used marks a one-time-use token (Authorization code or Refresh
	// token) as redeemed. A used token is invalid for every subsequent
	// redemption attempt.
	Used bool
}

// ExpiresAt returns the token's expiry instant in UTC.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.UTC().Add(t.ExpiresIn)
}

// Expired reports whether the token is past its expiry. Comparison is
// timezone-normalized.
func (t *Token) Expired(now time.Time) bool {
	return now.UTC().After(t.ExpiresAt())
}

// HTTPSession is a server-side browser session referenced by an opaque
// cookie value. It carries the refresh tokens that allow silent
// re-authentication in the Implicit flow.
type HTTPSession struct {
	ID uuid.UUID

	// Value is the opaque cookie value. It is never parsed as an
	// identifier.
	Value string

	Timeout   time.Duration
	CreatedAt time.Time
}

// ExpiresAt returns the session's expiry instant in UTC.
func (s *HTTPSession) ExpiresAt() time.Time {
	return s.CreatedAt.UTC().Add(s.Timeout)
}

// Expired reports whether the session has timed out.
func (s *HTTPSession) Expired(now time.Time) bool {
	return now.UTC().After(s.ExpiresAt())
}

// User is a resource owner within an application.
type User struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID

	// RoleID grants the user a named subset of the application's
	// scopes. Nil when the user holds no role.
	RoleID *uuid.UUID

	Login string

	// PasswordHash is the salted bcrypt hash of the user's password.
	PasswordHash string

	CreatedAt time.Time
}

// Role grants a named subset of an application's scopes.
type Role struct {
	ID            uuid.UUID
	ApplicationID uuid.UUID
	Name          string
	Scopes        []string
}

// Application owns clients, users, roles, and the full scope
// vocabulary those roles draw from.
type Application struct {
	ID     uuid.UUID
	Name   string
	Scopes []string
}
