package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// parseScope splits a space-delimited scope parameter into its scope
// names.
func parseScope(raw string) []string {
	return strings.Fields(raw)
}

// joinScope renders a scope list back into its wire form. Returns ""
// for a zero-scope grant, which callers omit from responses.
func joinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// intersectScopes returns the requested scopes present in the
// permitted set, preserving request order. Scopes outside the
// permitted set are silently dropped; initial grants never fail on
// escalation, they narrow.
func intersectScopes(requested, permitted []string) []string {
	if len(requested) == 0 {
		return nil
	}

	allowed := make(map[string]bool, len(permitted))
	for _, scope := range permitted {
		allowed[scope] = true
	}

	var granted []string
	for _, scope := range requested {
		if allowed[scope] {
			granted = append(granted, scope)
		}
	}
	return granted
}

// scopesSubset reports whether every requested scope is present in the
// granted set. Used by the refresh exchange, where widening is a hard
// failure.
func scopesSubset(requested, granted []string) bool {
	held := make(map[string]bool, len(granted))
	for _, scope := range granted {
		held[scope] = true
	}
	for _, scope := range requested {
		if !held[scope] {
			return false
		}
	}
	return true
}

// userPermittedScopes computes the permitted-scope set for a user via
// their role. The second return reports whether the user holds a role
// at all; a role with zero scopes is a valid, empty permission set.
func (s *Server) userPermittedScopes(ctx context.Context, user *storage.User) ([]string, bool, error) {
	if user.RoleID == nil {
		return nil, false, nil
	}

	role, err := s.users.GetRole(ctx, *user.RoleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolving role %s: %w", user.RoleID, err)
	}
	return role.Scopes, true, nil
}

// resolveUserScopes applies the initial-grant scope rules for a flow
// with a resource owner: requested scopes outside the role's permitted
// set are dropped, but any scope request without a role fails.
func (s *Server) resolveUserScopes(ctx context.Context, user *storage.User, requested []string) ([]string, *Error) {
	permitted, hasRole, err := s.userPermittedScopes(ctx, user)
	if err != nil {
		s.Logger.Error("Scope resolution failed", "user_id", user.ID, "error", err)
		return nil, ErrServerError("scope resolution failed")
	}

	if !hasRole && len(requested) > 0 {
		return nil, ErrInvalidScope("user has no role granting scopes")
	}
	return intersectScopes(requested, permitted), nil
}

// resolveClientScopes applies the scope rules for the client
// credentials flow, where there is no role context: the permitted set
// is the client application's scope vocabulary.
func (s *Server) resolveClientScopes(ctx context.Context, client *storage.Client, requested []string) ([]string, *Error) {
	app, err := s.users.GetApplication(ctx, client.ApplicationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidScope("client application has no scopes")
		}
		s.Logger.Error("Application lookup failed", "application_id", client.ApplicationID, "error", err)
		return nil, ErrServerError("scope resolution failed")
	}
	return intersectScopes(requested, app.Scopes), nil
}
