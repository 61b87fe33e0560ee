// Package authn provides the pluggable authenticator capability used
// by browser-based authorization flows, plus password hashing helpers
// shared with the owner-credentials grant.
//
// A client names its authenticator in its configuration; the registry
// resolves that name to an implementation at request time. A name with
// no bound implementation is a recoverable protocol error, not a
// crash.
package authn
