package kangaroo

// Defaults for the HTTP layer.
const (
	DefaultAuthorizePath = "/authorize"
	DefaultTokenPath     = "/token"

	DefaultRateLimitPerSecond = 10
	DefaultRateLimitBurst     = 20
)

// Config holds HTTP-layer configuration. The grant engine's own
// settings live in server.Config.
type Config struct {
	// AuthorizePath is the authorization endpoint path.
	AuthorizePath string

	// TokenPath is the token endpoint path.
	TokenPath string

	// TrustProxy enables client IP extraction from X-Forwarded-For and
	// X-Real-IP. Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of
	// the server, counted from the right of X-Forwarded-For.
	TrustedProxyCount int

	// RateLimitDisabled turns off per-IP rate limiting.
	RateLimitDisabled bool

	// RateLimitPerSecond is the sustained per-IP request rate.
	RateLimitPerSecond int

	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int
}

// applyDefaults fills zero values with defaults.
func applyDefaults(cfg *Config) *Config {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.AuthorizePath == "" {
		cfg.AuthorizePath = DefaultAuthorizePath
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = DefaultTokenPath
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = DefaultRateLimitPerSecond
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}
	return cfg
}
