package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

// Response type values at the authorize endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizeRequest carries the parameters of a GET /authorize request.
type AuthorizeRequest struct {
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string

	Credentials ClientCredentials

	// SessionValue is the kangaroo cookie value, when the browser
	// presented one.
	SessionValue string

	// HTTPRequest is the inbound request, handed to the client's
	// external authenticator to establish the resource-owner identity.
	HTTPRequest *http.Request
}

// AuthorizeResult is a successful authorization outcome: a redirect
// target carrying either the authorization code (query string) or the
// token response (fragment), plus the browser session to set as the
// kangaroo cookie for Implicit exchanges.
type AuthorizeResult struct {
	RedirectURL string
	Session     *storage.HTTPSession
}

// Authorize drives one authorization request through the flow matching
// its response_type. Errors raised before a redirect target is
// established surface directly; later errors are delivered via
// redirect, in the query string for the code flow and the fragment for
// the Implicit flow.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	// Client identity errors always come first.
	client, authErr := s.authenticateClient(ctx, &req.Credentials, authorizeEndpoint)
	if authErr != nil {
		return nil, authErr
	}

	var fragment bool
	switch req.ResponseType {
	case ResponseTypeCode:
		if client.Type != storage.ClientTypeAuthorizationGrant {
			return nil, ErrInvalidRequest("client is not registered for the authorization code flow")
		}
	case ResponseTypeToken:
		if client.Type != storage.ClientTypeImplicit {
			return nil, ErrInvalidRequest("client is not registered for the implicit flow")
		}
		fragment = true
	default:
		return nil, ErrInvalidRequest("response_type must be code or token")
	}

	// Redirect resolution runs only after the client is known; its
	// failures still have no redirect target and surface directly.
	target, redirectErrVal := resolveRedirect(client, req.RedirectURI)
	if redirectErrVal != nil {
		return nil, redirectErrVal
	}

	if refErr := validateReferrer(client, req.HTTPRequest.Header.Get("Referer")); refErr != nil {
		return nil, refErr
	}

	// A redirect target now exists; everything below is delivered
	// through it.
	if fragment {
		return s.authorizeImplicit(ctx, req, client, target)
	}
	return s.authorizeCode(ctx, req, client, target)
}

// authorizeCode completes the first step of the Authorization Code
// flow: establish identity, resolve scopes, issue the code, redirect.
func (s *Server) authorizeCode(ctx context.Context, req *AuthorizeRequest, client *storage.Client, target *url.URL) (*AuthorizeResult, error) {
	user, scopes, err := s.establishIdentity(ctx, req, client, target, false)
	if err != nil {
		return nil, err
	}

	userID := user.ID
	gc := &grantContext{
		client:      client,
		userID:      &userID,
		scopes:      scopes,
		redirectURI: recordedRedirect(req.RedirectURI, target),
	}
	code, issueErr := s.issueAuthorizationCode(ctx, gc)
	if issueErr != nil {
		return nil, redirectErr(issueErr, target, false, req.State)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(user.ID.String(), client.ID.String(), "authorization_code", scopes)
	}

	redirect := *target
	query := redirect.Query()
	query.Set("code", code.ID.String())
	if req.State != "" {
		query.Set("state", req.State)
	}
	redirect.RawQuery = query.Encode()

	return &AuthorizeResult{RedirectURL: redirect.String()}, nil
}

// authorizeImplicit completes the Implicit flow: silently resume a
// recognized session when possible, otherwise establish identity and
// issue a fresh token, rotating the session cookie either way.
func (s *Server) authorizeImplicit(ctx context.Context, req *AuthorizeRequest, client *storage.Client, target *url.URL) (*AuthorizeResult, error) {
	session, err := s.lookupSession(ctx, req.SessionValue)
	if err != nil {
		s.Logger.Error("Session lookup failed", "error", err)
		return nil, redirectErr(ErrServerError("session lookup failed"), target, true, req.State)
	}

	if session != nil {
		refresh, err := s.sessionRefreshToken(ctx, client, session)
		if err != nil {
			s.Logger.Error("Session inspection failed", "session_id", session.ID, "error", err)
			return nil, redirectErr(ErrServerError("session inspection failed"), target, true, req.State)
		}
		if refresh != nil {
			bearer, replacement, rotateErr := s.rotateSession(ctx, client, session, refresh)
			if rotateErr != nil {
				return nil, redirectErr(rotateErr, target, true, req.State)
			}
			if bearer != nil {
				return implicitResult(target, bearer, replacement, req.State), nil
			}
			// Redemption race lost; fall through to a fresh flow.
		}
	}

	user, scopes, idErr := s.establishIdentity(ctx, req, client, target, true)
	if idErr != nil {
		return nil, idErr
	}

	replacement := s.newSession()
	if err := s.replaceOrCreateSession(ctx, session, replacement); err != nil {
		return nil, redirectErr(err, target, true, req.State)
	}

	userID := user.ID
	gc := &grantContext{
		client:    client,
		userID:    &userID,
		scopes:    scopes,
		sessionID: &replacement.ID,
	}
	bearer, _, issueErr := s.issueBearer(ctx, gc, true)
	if issueErr != nil {
		return nil, redirectErr(issueErr, target, true, req.State)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(user.ID.String(), client.ID.String(), "implicit", scopes)
	}

	return implicitResult(target, bearer, replacement, req.State), nil
}

// establishIdentity invokes the client's external authenticator and
// resolves the granted scopes against the identity's role. This is the
// one legitimate suspension point in the flow; authenticator failure
// is a recoverable invalid_request, never fatal.
func (s *Server) establishIdentity(ctx context.Context, req *AuthorizeRequest, client *storage.Client, target *url.URL, fragment bool) (*storage.User, []string, error) {
	name := client.Authenticator()
	if name == "" {
		return nil, nil, redirectErr(ErrInvalidRequest("client has no authenticator configured"), target, fragment, req.State)
	}

	authenticator, err := s.authenticators.Get(name)
	if err != nil {
		s.Logger.Warn("Authenticator not bound", "authenticator", name, "client_id", client.ID)
		return nil, nil, redirectErr(ErrInvalidRequest("client authenticator is not available"), target, fragment, req.State)
	}

	user, err := authenticator.Authenticate(ctx, req.HTTPRequest, client)
	if err != nil {
		if !errors.Is(err, authn.ErrAuthenticationFailed) {
			s.Logger.Warn("Authenticator failed", "authenticator", name, "error", err)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID.String(), "", "authenticator_rejected")
		}
		return nil, nil, redirectErr(ErrInvalidRequest("resource owner could not be authenticated"), target, fragment, req.State)
	}
	if user.ApplicationID != client.ApplicationID {
		return nil, nil, redirectErr(ErrInvalidRequest("resource owner does not belong to the client application"), target, fragment, req.State)
	}

	scopes, scopeErr := s.resolveUserScopes(ctx, user, parseScope(req.Scope))
	if scopeErr != nil {
		return nil, nil, redirectErr(scopeErr, target, fragment, req.State)
	}
	return user, scopes, nil
}

// replaceOrCreateSession rotates the session row transactionally when
// an old session exists, or creates a fresh one.
func (s *Server) replaceOrCreateSession(ctx context.Context, old *storage.HTTPSession, replacement *storage.HTTPSession) *Error {
	if old != nil {
		oldID := old.ID
		if err := s.sessions.ReplaceSession(ctx, &oldID, replacement); err != nil {
			s.Logger.Error("Session replacement failed", "session_id", oldID, "error", err)
			return ErrServerError("failed to rotate session")
		}
		return nil
	}
	if err := s.sessions.SaveSession(ctx, replacement); err != nil {
		s.Logger.Error("Session creation failed", "error", err)
		return ErrServerError("failed to create session")
	}
	return nil
}

// implicitResult builds the fragment-encoded token response redirect.
// A zero-scope grant omits the scope key entirely.
func implicitResult(target *url.URL, bearer *storage.Token, session *storage.HTTPSession, state string) *AuthorizeResult {
	params := url.Values{}
	params.Set("access_token", bearer.ID.String())
	params.Set("token_type", tokenTypeBearer)
	params.Set("expires_in", strconv.FormatInt(int64(bearer.ExpiresIn/time.Second), 10))
	if scope := joinScope(bearer.Scopes); scope != "" {
		params.Set("scope", scope)
	}
	if state != "" {
		params.Set("state", state)
	}

	// The fragment is appended pre-encoded; assigning url.URL.Fragment
	// would re-escape the percent encoding.
	return &AuthorizeResult{
		RedirectURL: target.String() + "#" + params.Encode(),
		Session:     session,
	}
}

// recordedRedirect returns the redirect string bound to an issued
// authorization code: the raw request-supplied URI verbatim when one
// was supplied, else the resolved registration default. The /token
// endpoint later demands byte-identical agreement with this value.
func recordedRedirect(supplied string, resolved *url.URL) string {
	if supplied != "" {
		return supplied
	}
	return resolved.String()
}
