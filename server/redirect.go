package server

import (
	"net/url"

	"github.com/kangaroo-oauth/kangaroo/storage"
)

// resolveRedirect determines the effective redirect URI for an
// authorization request. Redirect checks run only after the client has
// been resolved.
//
// Rules:
//   - zero registered URIs: every request fails, whatever is supplied
//   - one registered, none supplied: the registration is the default
//   - many registered, none supplied: ambiguous, fails
//   - supplied: must match a registration on scheme, host, and path;
//     an additional query string on the supplied URI is accepted
//     ("partial match")
func resolveRedirect(client *storage.Client, supplied string) (*url.URL, *Error) {
	registered := client.RedirectURIs
	if len(registered) == 0 {
		return nil, ErrInvalidRequest("client has no registered redirect URI")
	}

	if supplied == "" {
		if len(registered) != 1 {
			return nil, ErrInvalidRequest("redirect_uri is required when multiple URIs are registered")
		}
		target, err := url.Parse(registered[0])
		if err != nil || !target.IsAbs() {
			return nil, ErrInvalidRequest("registered redirect URI is malformed")
		}
		return target, nil
	}

	target, err := url.Parse(supplied)
	if err != nil || !target.IsAbs() {
		return nil, ErrInvalidRequest("redirect_uri is malformed")
	}

	for _, raw := range registered {
		registration, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if baseMatches(target, registration) {
			return target, nil
		}
	}
	return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
}

// validateReferrer enforces the client's registered referrer URIs for
// browser-driven requests. An absent Referer header or an empty
// registration list passes; a present header must partial-match a
// registration.
func validateReferrer(client *storage.Client, referer string) *Error {
	if len(client.ReferrerURIs) == 0 || referer == "" {
		return nil
	}

	source, err := url.Parse(referer)
	if err != nil || !source.IsAbs() {
		return ErrInvalidRequest("referrer is malformed")
	}

	for _, raw := range client.ReferrerURIs {
		registration, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if baseMatches(source, registration) {
			return nil
		}
	}
	return ErrInvalidRequest("referrer is not registered for this client")
}

// baseMatches reports whether two URIs agree on scheme, host, and
// path. Query strings are deliberately excluded from the comparison.
func baseMatches(supplied, registration *url.URL) bool {
	return supplied.Scheme == registration.Scheme &&
		supplied.Host == registration.Host &&
		supplied.Path == registration.Path
}
