package main

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address                string `yaml:"address"`
	AuthorizePath          string `yaml:"authorize_path"`
	TokenPath              string `yaml:"token_path"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// EngineConfig configures the grant engine.
type EngineConfig struct {
	CookieName              string `yaml:"cookie_name"`
	SessionTimeoutSeconds   int    `yaml:"session_timeout_seconds"`
	ClockSkewGraceSeconds   int    `yaml:"clock_skew_grace_seconds"`
	CleanupIntervalSeconds  int    `yaml:"cleanup_interval_seconds"`
	StaticAuthenticatorUser string `yaml:"static_authenticator_user"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // "memory", "postgres"
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RateLimitConfig configures per-IP request throttling.
type RateLimitConfig struct {
	Disabled  bool `yaml:"disabled"`
	PerSecond int  `yaml:"per_second"`
	Burst     int  `yaml:"burst"`
}

// ProxyConfig configures client IP resolution behind proxies.
type ProxyConfig struct {
	Trust bool `yaml:"trust"`
	Count int  `yaml:"count"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "text"
}

// AuditConfig configures the security audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TelemetryConfig configures OpenTelemetry instrumentation.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// BootstrapConfig declares records seeded into the store at startup.
// Intended for the memory backend and for bootstrapping a fresh
// postgres database; existing records with the same name are updated.
type BootstrapConfig struct {
	Applications []ApplicationDef `yaml:"applications"`
}

// ApplicationDef declares an application and its dependent records.
// IDs are optional; a fixed ID makes bootstrap an upsert across
// restarts, a missing one generates a fresh identifier.
type ApplicationDef struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Scopes  []string    `yaml:"scopes"`
	Roles   []RoleDef   `yaml:"roles"`
	Users   []UserDef   `yaml:"users"`
	Clients []ClientDef `yaml:"clients"`
}

// RoleDef declares a role within an application.
type RoleDef struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Scopes []string `yaml:"scopes"`
}

// UserDef declares a user within an application. The password is
// hashed before it reaches the store.
type UserDef struct {
	ID       string `yaml:"id"`
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// ClientDef declares a client registration. An empty secret registers
// a public client. Zero lifetime values fall back to the RFC defaults.
type ClientDef struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"` // see storage.ClientType values
	Secret        string   `yaml:"secret"`
	RedirectURIs  []string `yaml:"redirect_uris"`
	ReferrerURIs  []string `yaml:"referrer_uris"`
	Authenticator string   `yaml:"authenticator"`

	// Per-client token lifetime overrides, in seconds.
	AccessTokenExpiresIn       int `yaml:"access_token_expires_in"`
	RefreshTokenExpiresIn      int `yaml:"refresh_token_expires_in"`
	AuthorizationCodeExpiresIn int `yaml:"authorization_code_expires_in"`
}

// Default configuration values.
const (
	defaultAddress         = ":8080"
	defaultReadTimeout     = 10
	defaultWriteTimeout    = 10
	defaultShutdownTimeout = 15
	defaultCleanupInterval = 300
	defaultMaxOpenConns    = 25
)

// LoadConfig loads configuration from a YAML file. The path comes from
// command line arguments, controlled by the operator.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is from CLI args
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = defaultReadTimeout
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = defaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = defaultShutdownTimeout
	}
	if cfg.Engine.CleanupIntervalSeconds == 0 {
		cfg.Engine.CleanupIntervalSeconds = defaultCleanupInterval
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "kangaroo"
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "memory":
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", cfg.Logging.Level)
	}
	return nil
}

// duration converts a seconds count to a time.Duration.
func duration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
