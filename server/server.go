package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/security"
	"github.com/kangaroo-oauth/kangaroo/storage"
)

// Server implements the OAuth 2.0 grant engine. It coordinates the
// grant strategies using the storage backends and the authenticator
// registry. Each request is handled independently; the only shared
// state between requests is the store.
type Server struct {
	clients  storage.ClientStore
	users    storage.UserStore
	tokens   storage.TokenStore
	sessions storage.SessionStore

	authenticators *authn.Registry

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config
}

// New creates a new grant engine.
func New(
	clients storage.ClientStore,
	users storage.UserStore,
	tokens storage.TokenStore,
	sessions storage.SessionStore,
	authenticators *authn.Registry,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if authenticators == nil {
		authenticators = authn.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		clients:        clients,
		users:          users,
		tokens:         tokens,
		sessions:       sessions,
		authenticators: authenticators,
		Config:         applyDefaults(config, logger),
		Logger:         logger,
	}, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// expired checks token/session expiry with the configured clock skew
// grace period.
func (s *Server) expired(expiresAt time.Time) bool {
	return security.IsExpiredWithGracePeriod(expiresAt, s.Config.ClockSkewGracePeriod)
}

// safeTruncate truncates a string for logging without panicking.
func safeTruncate(v string, maxLen int) string {
	if len(v) <= maxLen {
		return v
	}
	return v[:maxLen]
}
