// Command kangaroo runs the OAuth 2.0 authorization server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/kangaroo-oauth/kangaroo"
	"github.com/kangaroo-oauth/kangaroo/authn"
	"github.com/kangaroo-oauth/kangaroo/instrumentation"
	"github.com/kangaroo-oauth/kangaroo/security"
	"github.com/kangaroo-oauth/kangaroo/server"
	"github.com/kangaroo-oauth/kangaroo/storage"
	"github.com/kangaroo-oauth/kangaroo/storage/memory"
	"github.com/kangaroo-oauth/kangaroo/storage/postgres"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func run() error {
	opts := parseFlags()
	if opts.showVersion {
		fmt.Printf("kangaroo version %s\n", Version)
		return nil
	}

	cfg := &Config{}
	if opts.configPath != "" {
		loaded, err := LoadConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		applyDefaults(cfg)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := bootstrap(ctx, store, &cfg.Bootstrap, logger); err != nil {
		return fmt.Errorf("bootstrapping store: %w", err)
	}

	registry := authn.NewRegistry()
	registry.Register("password", authn.NewPasswordAuthenticator(store))
	if err := registerStaticAuthenticator(ctx, store, cfg, registry, logger); err != nil {
		return err
	}

	engine, err := server.New(store, store, store, store, registry, &server.Config{
		CookieName:           cfg.Engine.CookieName,
		SessionTimeout:       duration(cfg.Engine.SessionTimeoutSeconds),
		ClockSkewGracePeriod: duration(cfg.Engine.ClockSkewGraceSeconds),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating grant engine: %w", err)
	}
	engine.SetAuditor(security.NewAuditor(logger, cfg.Audit.Enabled))

	handler := kangaroo.NewHandler(engine, &kangaroo.Config{
		AuthorizePath:      cfg.Server.AuthorizePath,
		TokenPath:          cfg.Server.TokenPath,
		TrustProxy:         cfg.Proxy.Trust,
		TrustedProxyCount:  cfg.Proxy.Count,
		RateLimitDisabled:  cfg.RateLimit.Disabled,
		RateLimitPerSecond: cfg.RateLimit.PerSecond,
		RateLimitBurst:     cfg.RateLimit.Burst,
	}, logger)
	defer handler.Close()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: versionOr(cfg.Telemetry.ServiceVersion),
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("creating instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Error("Instrumentation shutdown failed", "error", err)
		}
	}()
	handler.SetInstrumentation(inst)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	return serve(ctx, cfg, mux, logger)
}

func newLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// openStore builds the configured storage backend and returns it with
// its teardown function. Expired-record cleanup runs in the background
// for both backends.
func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		store := memory.New()
		store.StartCleanup(duration(cfg.Engine.CleanupIntervalSeconds))
		logger.Info("Using in-memory storage backend")
		return store, store.Stop, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrating database: %w", err)
		}

		store := postgres.New(db)
		stopCleanup := startPostgresCleanup(ctx, store, duration(cfg.Engine.CleanupIntervalSeconds), logger)
		logger.Info("Using postgres storage backend")
		return store, func() {
			stopCleanup()
			_ = db.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// startPostgresCleanup runs periodic expired-record cleanup until the
// context is canceled or the returned stop function is called.
func startPostgresCleanup(ctx context.Context, store *postgres.Store, interval time.Duration, logger *slog.Logger) func() {
	cleanupCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if err := store.Cleanup(cleanupCtx); err != nil {
					logger.Error("Expired record cleanup failed", "error", err)
				}
			}
		}
	}()
	return cancel
}

// registerStaticAuthenticator binds the "static" authenticator to a
// fixed user when one is configured. Development setups only.
func registerStaticAuthenticator(ctx context.Context, store storage.Store, cfg *Config, registry *authn.Registry, logger *slog.Logger) error {
	raw := cfg.Engine.StaticAuthenticatorUser
	if raw == "" {
		return nil
	}

	userID, err := defOrNewID(raw)
	if err != nil {
		return fmt.Errorf("static authenticator user: %w", err)
	}
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving static authenticator user %s: %w", userID, err)
	}

	registry.Register("static", &authn.StaticAuthenticator{User: user})
	logger.Warn("Static authenticator enabled, do not use in production", "user", user.Login)
	return nil
}

func serve(ctx context.Context, cfg *Config, mux *http.ServeMux, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  duration(cfg.Server.ReadTimeoutSeconds),
		WriteTimeout: duration(cfg.Server.WriteTimeoutSeconds),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Authorization server listening",
			"address", cfg.Server.Address, "version", Version)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), duration(cfg.Server.ShutdownTimeoutSeconds))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func versionOr(configured string) string {
	if configured != "" {
		return configured
	}
	return Version
}
