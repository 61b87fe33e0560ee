package server

import (
	"log/slog"
	"time"
)

// Default engine configuration values.
const (
	// DefaultCookieName is the browser session cookie name.
	DefaultCookieName = "kangaroo"

	// DefaultSessionTimeout matches the default refresh token
	// lifetime, so a session stays resumable as long as its refresh
	// token lives.
	DefaultSessionTimeout = 2592000 * time.Second

	// DefaultClockSkewGracePeriod tolerates minor clock drift in
	// expiry checks.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// Config holds grant engine configuration.
type Config struct {
	// CookieName is the name of the browser session cookie.
	// Default: "kangaroo".
	CookieName string

	// SessionTimeout is the lifetime of browser sessions and their
	// cookies. Default: 30 days.
	SessionTimeout time.Duration

	// ClockSkewGracePeriod is the grace period applied to token and
	// session expiry checks. Default: 5 seconds.
	ClockSkewGracePeriod time.Duration
}

// applyDefaults fills in unset configuration values.
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = DefaultSessionTimeout
		logger.Debug("Using default session timeout", "timeout", config.SessionTimeout)
	}
	if config.ClockSkewGracePeriod < 0 {
		config.ClockSkewGracePeriod = 0
	} else if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = DefaultClockSkewGracePeriod
	}
	return config
}
