// Package server implements the RFC 6749 grant-type state machine and
// token-lifecycle engine. It drives the authorize and token endpoints
// through the Authorization Code, Implicit, Resource Owner Password
// Credentials, and Client Credentials flows plus Refresh Token
// exchange, coordinating client authentication, redirect validation,
// scope resolution, token issuance, and browser session rotation.
//
// The package is transport-agnostic: the root kangaroo package adapts
// it to HTTP.
package server
