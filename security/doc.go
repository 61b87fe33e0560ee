// Package security provides security support for the authorization
// server: audit logging with PII protection, per-identifier rate
// limiting, client IP extraction, and clock-skew-tolerant expiry
// checks.
package security
