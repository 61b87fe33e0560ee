// Package kangaroo implements an OAuth 2.0 authorization server per
// RFC 6749: the Authorization Code, Implicit, Resource Owner Password
// Credentials, and Client Credentials grants, plus the Refresh Token
// exchange, served over GET /authorize and POST /token.
//
// The package is organized in layers. The root package is the HTTP
// adapter: it parses requests, applies rate limits, and renders
// protocol responses. The server package is the grant engine holding
// all flow semantics. The storage package defines the persistence
// interfaces with memory and postgres backends, and the authn package
// binds external resource-owner authenticators.
package kangaroo
