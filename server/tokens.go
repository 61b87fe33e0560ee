package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// tokenTypeBearer is the token_type value in every token response.
const tokenTypeBearer = "Bearer"

// grantContext carries everything the token factory needs to mint
// tokens for one grant: the client, the resolved identity (nil for
// client credentials), the granted scope snapshot, and the linkage
// for redirect- and session-bound flows.
type grantContext struct {
	client      *storage.Client
	userID      *uuid.UUID
	scopes      []string
	redirectURI string
	sessionID   *uuid.UUID
}

// userIDString renders the grant's user identity for audit events.
// Identity-less grants log an empty subject.
func (gc *grantContext) userIDString() string {
	if gc.userID == nil {
		return ""
	}
	return gc.userID.String()
}

// newAuthorizationCode builds an Authorization-type token bound to the
// resolved redirect and granted scopes.
func (gc *grantContext) newAuthorizationCode() *storage.Token {
	return &storage.Token{
		ID:          uuid.New(),
		Type:        storage.TokenTypeAuthorization,
		ClientID:    gc.client.ID,
		UserID:      gc.userID,
		IssuedAt:    time.Now().UTC(),
		ExpiresIn:   gc.client.AuthorizationCodeExpiresIn(),
		RedirectURI: gc.redirectURI,
		Scopes:      gc.scopes,
	}
}

// newBearer builds a Bearer token with expiry from the client's
// configuration.
func (gc *grantContext) newBearer() *storage.Token {
	return &storage.Token{
		ID:        uuid.New(),
		Type:      storage.TokenTypeBearer,
		ClientID:  gc.client.ID,
		UserID:    gc.userID,
		IssuedAt:  time.Now().UTC(),
		ExpiresIn: gc.client.AccessTokenExpiresIn(),
		Scopes:    gc.scopes,
		SessionID: gc.sessionID,
	}
}

// newRefresh builds the companion Refresh token for a Bearer token.
// Its authToken back-reference points at the bearer and its scope
// snapshot equals the bearer's.
func (gc *grantContext) newRefresh(bearer *storage.Token) *storage.Token {
	bearerID := bearer.ID
	return &storage.Token{
		ID:          uuid.New(),
		Type:        storage.TokenTypeRefresh,
		ClientID:    gc.client.ID,
		UserID:      gc.userID,
		IssuedAt:    time.Now().UTC(),
		ExpiresIn:   gc.client.RefreshTokenExpiresIn(),
		AuthTokenID: &bearerID,
		Scopes:      bearer.Scopes,
		SessionID:   gc.sessionID,
	}
}

// issueAuthorizationCode mints and persists an authorization code.
func (s *Server) issueAuthorizationCode(ctx context.Context, gc *grantContext) (*storage.Token, *Error) {
	code := gc.newAuthorizationCode()
	if err := s.tokens.SaveTokens(ctx, code); err != nil {
		s.Logger.Error("Failed to persist authorization code", "client_id", gc.client.ID, "error", err)
		return nil, ErrServerError("failed to issue authorization code")
	}
	return code, nil
}

// issueBearer mints and persists a Bearer token, with a companion
// Refresh token when the flow requires session continuity. Both rows
// are written in one atomic unit.
func (s *Server) issueBearer(ctx context.Context, gc *grantContext, withRefresh bool) (*storage.Token, *storage.Token, *Error) {
	bearer := gc.newBearer()
	if !withRefresh {
		if err := s.tokens.SaveTokens(ctx, bearer); err != nil {
			s.Logger.Error("Failed to persist bearer token", "client_id", gc.client.ID, "error", err)
			return nil, nil, ErrServerError("failed to issue token")
		}
		return bearer, nil, nil
	}

	refresh := gc.newRefresh(bearer)
	if err := s.tokens.SaveTokens(ctx, bearer, refresh); err != nil {
		s.Logger.Error("Failed to persist token pair", "client_id", gc.client.ID, "error", err)
		return nil, nil, ErrServerError("failed to issue token")
	}
	return bearer, refresh, nil
}

// TokenResult is the outcome of a successful token grant, ready to be
// rendered as an RFC 6749 token response.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scopes       []string
	State        string
}

// newTokenResult assembles a grant outcome from the issued tokens.
// refresh may be nil for flows without a companion refresh token.
func newTokenResult(bearer, refresh *storage.Token, state string) *TokenResult {
	result := &TokenResult{
		AccessToken: bearer.ID.String(),
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(bearer.ExpiresIn / time.Second),
		Scopes:      bearer.Scopes,
		State:       state,
	}
	if refresh != nil {
		result.RefreshToken = refresh.ID.String()
	}
	return result
}
