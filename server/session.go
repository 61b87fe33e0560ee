package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// newSession builds a fresh browser session with a new opaque cookie
// value. Cookie values are random verifier strings, never identifiers.
func (s *Server) newSession() *storage.HTTPSession {
	return &storage.HTTPSession{
		ID:        uuid.New(),
		Value:     oauth2.GenerateVerifier(),
		Timeout:   s.Config.SessionTimeout,
		CreatedAt: time.Now().UTC(),
	}
}

// lookupSession resolves the session referenced by a cookie value.
// Unknown or expired sessions resolve to nil; a bad cookie is never a
// protocol error, the flow simply restarts fresh.
func (s *Server) lookupSession(ctx context.Context, cookieValue string) (*storage.HTTPSession, error) {
	if cookieValue == "" {
		return nil, nil
	}

	session, err := s.sessions.GetSessionByValue(ctx, cookieValue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	if s.expired(session.ExpiresAt()) {
		return nil, nil
	}
	return session, nil
}

// sessionRefreshToken finds the refresh token a session may silently
// redeem for the given client.
//
// Zero live refresh tokens mean the flow proceeds as a fresh
// authorization. More than one is an inconsistent state: every token
// under the session is deleted and the flow restarts as if no session
// existed. Exactly one is returned only when it is unused, unexpired,
// and owned by the requesting client.
func (s *Server) sessionRefreshToken(ctx context.Context, client *storage.Client, session *storage.HTTPSession) (*storage.Token, error) {
	tokens, err := s.tokens.ListSessionTokens(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("listing session tokens: %w", err)
	}

	var refreshTokens []*storage.Token
	for _, token := range tokens {
		if token.Type == storage.TokenTypeRefresh && !token.Used && !s.expired(token.ExpiresAt()) {
			refreshTokens = append(refreshTokens, token)
		}
	}

	switch {
	case len(refreshTokens) == 0:
		return nil, nil
	case len(refreshTokens) > 1:
		if s.Auditor != nil {
			s.Auditor.LogSessionCorrupted(client.ID.String(), len(refreshTokens))
		}
		s.Logger.Warn("Session holds multiple refresh tokens, purging",
			"session_id", session.ID,
			"token_count", len(refreshTokens))
		if err := s.tokens.DeleteSessionTokens(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("purging corrupted session: %w", err)
		}
		return nil, nil
	}

	refresh := refreshTokens[0]
	if refresh.ClientID != client.ID {
		return nil, nil
	}
	return refresh, nil
}

// rotateSession redeems a session's refresh token and replaces the
// session in one motion: the old refresh and its bearer are
// invalidated, a new bearer/refresh pair is bound to a new session,
// and the old session row is deleted as the new one is inserted. The
// caller sets the new session's cookie, which replaces the old one.
func (s *Server) rotateSession(ctx context.Context, client *storage.Client, oldSession *storage.HTTPSession, refresh *storage.Token) (*storage.Token, *storage.HTTPSession, *Error) {
	replacement := s.newSession()
	gc := &grantContext{
		client:    client,
		userID:    refresh.UserID,
		scopes:    refresh.Scopes,
		sessionID: &replacement.ID,
	}
	bearer := gc.newBearer()
	newRefresh := gc.newRefresh(bearer)

	if _, err := s.tokens.RedeemToken(ctx, refresh.ID, bearer, newRefresh); err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyRedeemed) {
			// Lost a redemption race; restart as a fresh authorization.
			return nil, nil, nil
		}
		s.Logger.Error("Session token redemption failed", "session_id", oldSession.ID, "error", err)
		return nil, nil, ErrServerError("session redemption failed")
	}

	oldID := oldSession.ID
	if err := s.sessions.ReplaceSession(ctx, &oldID, replacement); err != nil {
		s.Logger.Error("Session rotation failed", "session_id", oldID, "error", err)
		return nil, nil, ErrServerError("session rotation failed")
	}

	if s.Auditor != nil {
		userID := ""
		if refresh.UserID != nil {
			userID = refresh.UserID.String()
		}
		s.Auditor.LogSessionRotated(userID, client.ID.String())
	}

	return bearer, replacement, nil
}
