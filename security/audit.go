package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User
// identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// Audit event types emitted by the grant engine.
const (
	EventTokenIssued      = "token_issued"
	EventCodeExchanged    = "authorization_code_exchanged"
	EventTokenRefreshed   = "token_refreshed"
	EventSessionRotated   = "session_rotated"
	EventSessionCorrupted = "session_corrupted"
	EventAuthFailure      = "auth_failure"
)

// LogEvent logs a security event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs a successful token grant.
func (a *Auditor) LogTokenIssued(userID, clientID, grantType string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scopes,
		},
	})
}

// LogCodeExchanged logs a successful authorization code redemption.
func (a *Auditor) LogCodeExchanged(userID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventCodeExchanged,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scopes,
		},
	})
}

// LogTokenRefreshed logs a successful refresh token exchange.
func (a *Auditor) LogTokenRefreshed(userID, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scopes,
		},
	})
}

// LogSessionRotated logs a browser session rotation.
func (a *Auditor) LogSessionRotated(userID, clientID string) {
	a.LogEvent(Event{
		Type:     EventSessionRotated,
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogSessionCorrupted logs detection of a session holding more than
// one refresh token.
func (a *Auditor) LogSessionCorrupted(clientID string, tokenCount int) {
	a.LogEvent(Event{
		Type:     EventSessionCorrupted,
		ClientID: clientID,
		Details: map[string]any{
			"severity":    "warning",
			"token_count": tokenCount,
			"action":      "all_session_tokens_deleted",
		},
	})
}

// LogAuthFailure logs a failed authentication or grant attempt.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging hashes sensitive identifiers so logs stay correlatable
// without exposing PII.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
