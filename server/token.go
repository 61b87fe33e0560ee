package server

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

// Grant type values at the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenRequest carries the parameters of a POST /token request.
type TokenRequest struct {
	GrantType string

	// Authorization code exchange.
	Code        string
	RedirectURI string

	// Owner credentials grant.
	Username string
	Password string

	// Refresh exchange.
	RefreshToken string

	Scope string
	State string

	Credentials ClientCredentials
}

// Token drives one token request through the grant matching its
// grant_type. Every outcome is either a TokenResult or a protocol
// *Error; token endpoint failures are never delivered by redirect.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenResult, error) {
	if req.GrantType == "" {
		return nil, ErrInvalidGrant("grant_type is required")
	}

	var grant func(context.Context, *storage.Client, *TokenRequest) (*TokenResult, error)
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		grant = s.exchangeAuthorizationCode
	case GrantTypePassword:
		grant = s.ownerCredentialsGrant
	case GrantTypeClientCredentials:
		grant = s.clientCredentialsGrant
	case GrantTypeRefreshToken:
		grant = s.refreshTokenGrant
	default:
		return nil, ErrInvalidGrant("unsupported grant type")
	}

	// Client identity errors always precede grant-specific errors.
	client, authErr := s.authenticateClient(ctx, &req.Credentials, tokenEndpoint)
	if authErr != nil {
		return nil, authErr
	}

	return grant(ctx, client, req)
}

// exchangeAuthorizationCode redeems an authorization code for a
// bearer/refresh pair. The code is consumed exactly once; losing the
// redemption race is indistinguishable from replaying a spent code.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResult, error) {
	if client.Type != storage.ClientTypeAuthorizationGrant {
		return nil, ErrInvalidGrant("client is not registered for the authorization code grant")
	}
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	codeID, err := uuid.Parse(req.Code)
	if err != nil {
		s.Logger.Debug("Rejecting malformed authorization code", "code", safeTruncate(req.Code, 16))
		return nil, ErrBadRequest("code is malformed")
	}

	code, err := s.tokens.GetToken(ctx, codeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("authorization code is invalid")
		}
		s.Logger.Error("Authorization code lookup failed", "error", err)
		return nil, ErrServerError("code lookup failed")
	}

	switch {
	case code.Type != storage.TokenTypeAuthorization:
		return nil, ErrInvalidGrant("authorization code is invalid")
	case code.ClientID != client.ID:
		return nil, ErrInvalidGrant("authorization code was issued to another client")
	case code.Used:
		return nil, ErrInvalidGrant("authorization code has already been redeemed")
	case s.expired(code.ExpiresAt()):
		return nil, ErrInvalidGrant("authorization code is expired")
	}

	// The redirect bound at issuance must be reproduced byte for byte.
	// An omitted redirect_uri is acceptable only when the registration
	// default resolves to the recorded value.
	supplied := req.RedirectURI
	if supplied == "" {
		resolved, resolveErr := resolveRedirect(client, "")
		if resolveErr != nil {
			return nil, ErrInvalidGrant("redirect_uri is required")
		}
		supplied = resolved.String()
	}
	if supplied != code.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	gc := &grantContext{
		client: client,
		userID: code.UserID,
		scopes: code.Scopes,
	}
	bearer := gc.newBearer()
	refresh := gc.newRefresh(bearer)

	if _, err := s.tokens.RedeemToken(ctx, code.ID, bearer, refresh); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyRedeemed) {
			return nil, ErrInvalidGrant("authorization code has already been redeemed")
		}
		s.Logger.Error("Authorization code redemption failed", "client_id", client.ID, "error", err)
		return nil, ErrServerError("code redemption failed")
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeExchanged(gc.userIDString(), client.ID.String(), code.Scopes)
	}

	return newTokenResult(bearer, refresh, req.State), nil
}

// ownerCredentialsGrant authenticates a resource owner directly against
// the user store and issues a bearer/refresh pair. Confidential clients
// only.
func (s *Server) ownerCredentialsGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResult, error) {
	if client.Type != storage.ClientTypeOwnerCredentials {
		return nil, ErrInvalidGrant("client is not registered for the password grant")
	}
	if client.Public() {
		return nil, ErrInvalidClient("client authentication is required for the password grant")
	}
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}

	user, err := s.users.GetUserByLogin(ctx, client.ApplicationID, req.Username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", client.ID.String(), "", "unknown_user")
			}
			return nil, ErrUnauthorized("resource owner credentials are invalid")
		}
		s.Logger.Error("User lookup failed", "client_id", client.ID, "error", err)
		return nil, ErrServerError("user lookup failed")
	}
	if !authn.CheckPassword(user.PasswordHash, req.Password) {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(user.ID.String(), client.ID.String(), "", "bad_password")
		}
		return nil, ErrUnauthorized("resource owner credentials are invalid")
	}

	scopes, scopeErr := s.resolveUserScopes(ctx, user, parseScope(req.Scope))
	if scopeErr != nil {
		return nil, scopeErr
	}

	userID := user.ID
	gc := &grantContext{client: client, userID: &userID, scopes: scopes}
	bearer, refresh, issueErr := s.issueBearer(ctx, gc, true)
	if issueErr != nil {
		return nil, issueErr
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(user.ID.String(), client.ID.String(), GrantTypePassword, scopes)
	}

	return newTokenResult(bearer, refresh, req.State), nil
}

// clientCredentialsGrant issues a bearer token on the client's own
// authority. There is no resource owner and no refresh token; the
// client re-authenticates when the token expires.
func (s *Server) clientCredentialsGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResult, error) {
	if client.Type != storage.ClientTypeClientCredentials {
		return nil, ErrInvalidGrant("client is not registered for the client credentials grant")
	}
	if client.Public() {
		return nil, ErrInvalidClient("client authentication is required for the client credentials grant")
	}

	scopes, scopeErr := s.resolveClientScopes(ctx, client, parseScope(req.Scope))
	if scopeErr != nil {
		return nil, scopeErr
	}

	gc := &grantContext{client: client, scopes: scopes}
	bearer, _, issueErr := s.issueBearer(ctx, gc, false)
	if issueErr != nil {
		return nil, issueErr
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued("", client.ID.String(), GrantTypeClientCredentials, scopes)
	}

	return newTokenResult(bearer, nil, req.State), nil
}

// refreshTokenGrant exchanges a live refresh token for a new
// bearer/refresh pair. The old refresh token and its linked bearer are
// invalidated atomically with the issue; scope may only narrow.
func (s *Server) refreshTokenGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResult, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}
	refreshID, err := uuid.Parse(req.RefreshToken)
	if err != nil {
		s.Logger.Debug("Rejecting malformed refresh token", "refresh_token", safeTruncate(req.RefreshToken, 16))
		return nil, ErrBadRequest("refresh_token is malformed")
	}

	refresh, err := s.tokens.GetToken(ctx, refreshID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound("refresh token not found")
		}
		s.Logger.Error("Refresh token lookup failed", "error", err)
		return nil, ErrServerError("refresh token lookup failed")
	}

	switch {
	case refresh.Type != storage.TokenTypeRefresh:
		return nil, ErrNotFound("refresh token not found")
	case refresh.ClientID != client.ID:
		return nil, ErrInvalidClient("refresh token was issued to another client")
	case refresh.Used:
		return nil, ErrInvalidGrant("refresh token has already been redeemed")
	case s.expired(refresh.ExpiresAt()):
		return nil, ErrInvalidGrant("refresh token is expired")
	}

	granted := refresh.Scopes
	if requested := parseScope(req.Scope); len(requested) > 0 {
		if !scopesSubset(requested, refresh.Scopes) {
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		granted = requested
	}

	gc := &grantContext{
		client:    client,
		userID:    refresh.UserID,
		scopes:    granted,
		sessionID: refresh.SessionID,
	}
	bearer := gc.newBearer()
	newRefresh := gc.newRefresh(bearer)

	if _, err := s.tokens.RedeemToken(ctx, refresh.ID, bearer, newRefresh); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyRedeemed) {
			return nil, ErrInvalidGrant("refresh token has already been redeemed")
		}
		s.Logger.Error("Refresh token redemption failed", "client_id", client.ID, "error", err)
		return nil, ErrServerError("refresh redemption failed")
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(gc.userIDString(), client.ID.String(), granted)
	}

	return newTokenResult(bearer, newRefresh, req.State), nil
}
