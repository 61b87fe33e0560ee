package server

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

// endpoint distinguishes the two protocol endpoints, which map client
// authentication failures to different error codes.
type endpoint int

const (
	authorizeEndpoint endpoint = iota
	tokenEndpoint
)

// ClientCredentials carries the client identity material presented on
// a request: the Authorization Basic header and/or the client_id and
// client_secret body parameters.
type ClientCredentials struct {
	BasicID     string
	BasicSecret string
	HasBasic    bool

	FormID     string
	FormSecret string
}

// presentedID returns the client identifier named by the request,
// enforcing agreement when both channels name one.
func (c *ClientCredentials) presentedID() (string, bool, bool) {
	switch {
	case c.HasBasic && c.FormID != "":
		return c.BasicID, true, c.BasicID == c.FormID
	case c.HasBasic:
		return c.BasicID, true, true
	case c.FormID != "":
		return c.FormID, true, true
	}
	return "", false, true
}

// presentedSecret returns the secret supplied with the request,
// enforcing the at-most-one-channel rule: when both channels carry a
// secret they must agree, otherwise the request is treated as a
// mismatch.
func (c *ClientCredentials) presentedSecret() (string, bool) {
	basicSecret := ""
	if c.HasBasic {
		basicSecret = c.BasicSecret
	}
	if basicSecret != "" && c.FormSecret != "" {
		if basicSecret != c.FormSecret {
			return "", false
		}
		return basicSecret, true
	}
	if basicSecret != "" {
		return basicSecret, true
	}
	return c.FormSecret, true
}

// authenticateClient resolves and verifies the client identity for a
// request. Client identity errors are always surfaced before any
// grant-specific validation.
//
// Error mapping per endpoint:
//   - unresolvable identity: access_denied (/authorize),
//     invalid_client (/token)
//   - header/body disagreement: bad_request (/authorize),
//     invalid_client (/token)
//   - malformed client identifier: bad_request (both)
//   - secret mismatch: access_denied (both, HTTP 401)
func (s *Server) authenticateClient(ctx context.Context, creds *ClientCredentials, ep endpoint) (*storage.Client, *Error) {
	rawID, present, agree := creds.presentedID()
	if !present {
		if ep == authorizeEndpoint {
			return nil, ErrAccessDenied("client identity could not be resolved")
		}
		return nil, ErrInvalidClient("client identity could not be resolved")
	}
	if !agree {
		if ep == authorizeEndpoint {
			return nil, ErrBadRequest("client_id does not match the Authorization header")
		}
		return nil, ErrInvalidClient("client_id does not match the Authorization header")
	}

	clientID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrBadRequest("client_id is malformed")
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if ep == authorizeEndpoint {
				return nil, ErrAccessDenied("client identity could not be resolved")
			}
			return nil, ErrInvalidClient("client identity could not be resolved")
		}
		s.Logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		return nil, ErrServerError("client lookup failed")
	}

	secret, ok := creds.presentedSecret()
	if !ok {
		return nil, ErrAccessDenied("conflicting client credentials")
	}

	if client.Public() {
		// Public clients identify by client_id alone. A secret offered
		// for a secretless client can never match.
		if secret != "" {
			return nil, ErrAccessDenied("client authentication failed")
		}
		return client, nil
	}

	if secret == "" {
		if ep == authorizeEndpoint {
			return nil, ErrAccessDenied("client credentials are required")
		}
		return nil, ErrInvalidClient("client credentials are required")
	}
	if !authn.CheckPassword(client.SecretHash, secret) {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID.String(), "", "client_secret_mismatch")
		}
		return nil, ErrAccessDenied("client authentication failed")
	}

	return client, nil
}
