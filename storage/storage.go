package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by all stores when the requested record does
// not exist. Callers translate it into the protocol error appropriate
// for their flow.
var ErrNotFound = errors.New("storage: record not found")

// ErrAlreadyRedeemed is returned by RedeemToken when the token was
// already marked used, including by a concurrent redemption that won
// the race.
var ErrAlreadyRedeemed = errors.New("storage: token already redeemed")

// ClientStore resolves registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, id uuid.UUID) (*Client, error)

	// SaveClient persists a client registration.
	SaveClient(ctx context.Context, client *Client) error
}

// UserStore resolves users and the role/application records scope
// resolution depends on. Cross-entity references are identifiers
// resolved on demand; no live object graph is held in memory.
type UserStore interface {
	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByLogin retrieves a user by login within an application.
	GetUserByLogin(ctx context.Context, applicationID uuid.UUID, login string) (*User, error)

	// SaveUser persists a user.
	SaveUser(ctx context.Context, user *User) error

	// GetRole retrieves a role by ID.
	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)

	// SaveRole persists a role.
	SaveRole(ctx context.Context, role *Role) error

	// GetApplication retrieves an application by ID.
	GetApplication(ctx context.Context, id uuid.UUID) (*Application, error)

	// SaveApplication persists an application.
	SaveApplication(ctx context.Context, app *Application) error
}

// TokenStore persists issued tokens. Implementations must make
// RedeemToken atomic: only one of any number of concurrent redemptions
// of the same token may succeed.
type TokenStore interface {
	// SaveTokens persists one or more tokens as a single atomic unit,
	// so a bearer/refresh pair is never half-written.
	SaveTokens(ctx context.Context, tokens ...*Token) error

	// GetToken retrieves a token by ID.
	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)

	// DeleteToken removes a token. Deleting an absent token returns
	// ErrNotFound.
	DeleteToken(ctx context.Context, id uuid.UUID) error

	// RedeemToken atomically marks the identified token used, deletes
	// its linked auth token (for Refresh tokens), and persists the
	// replacement tokens, as one unit. Returns the redeemed token.
	// Returns ErrNotFound if the token does not exist and
	// ErrAlreadyRedeemed if it was already used; in both cases nothing
	// is persisted. This is what makes codes and refresh tokens
	// one-time use under concurrent redemption.
	RedeemToken(ctx context.Context, id uuid.UUID, replacements ...*Token) (*Token, error)

	// ListSessionTokens returns all tokens linked to a session.
	ListSessionTokens(ctx context.Context, sessionID uuid.UUID) ([]*Token, error)

	// DeleteSessionTokens removes every token linked to a session.
	// Used when a session is found in an inconsistent state.
	DeleteSessionTokens(ctx context.Context, sessionID uuid.UUID) error
}

// SessionStore persists browser sessions for the Implicit flow.
type SessionStore interface {
	// SaveSession persists a session.
	SaveSession(ctx context.Context, session *HTTPSession) error

	// GetSessionByValue retrieves a session by its opaque cookie
	// value.
	GetSessionByValue(ctx context.Context, value string) (*HTTPSession, error)

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// ReplaceSession atomically deletes the old session (when oldID is
	// non-nil) and inserts the replacement as one unit, so that no
	// window exists where both or neither session is live.
	ReplaceSession(ctx context.Context, oldID *uuid.UUID, replacement *HTTPSession) error
}

// Store aggregates every store interface. The memory and postgres
// backends implement all of them on a single type.
type Store interface {
	ClientStore
	UserStore
	TokenStore
	SessionStore
}
