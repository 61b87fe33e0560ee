package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":9000\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, defaultReadTimeout, cfg.Server.ReadTimeoutSeconds)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "kangaroo", cfg.Telemetry.ServiceName)
	assert.Equal(t, defaultCleanupInterval, cfg.Engine.CleanupIntervalSeconds)
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":8443"
  authorize_path: /oauth/authorize
  token_path: /oauth/token
engine:
  cookie_name: session
  session_timeout_seconds: 3600
storage:
  backend: postgres
  dsn: postgres://kangaroo@localhost/kangaroo?sslmode=disable
rate_limit:
  per_second: 50
  burst: 100
logging:
  level: debug
  format: text
audit:
  enabled: true
bootstrap:
  applications:
    - name: demo
      scopes: [read, write]
      clients:
        - name: web
          type: AuthorizationGrant
          secret: s3cret
          redirect_uris: [https://demo.example.com/cb]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/oauth/authorize", cfg.Server.AuthorizePath)
	assert.Equal(t, "session", cfg.Engine.CookieName)
	assert.Equal(t, 3600, cfg.Engine.SessionTimeoutSeconds)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 50, cfg.RateLimit.PerSecond)
	assert.True(t, cfg.Audit.Enabled)

	require.Len(t, cfg.Bootstrap.Applications, 1)
	app := cfg.Bootstrap.Applications[0]
	assert.Equal(t, "demo", app.Name)
	require.Len(t, app.Clients, 1)
	assert.Equal(t, "AuthorizationGrant", app.Clients[0].Type)
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("KANGAROO_TEST_DSN", "postgres://env@localhost/db")
	path := writeConfig(t, "storage:\n  backend: postgres\n  dsn: ${KANGAROO_TEST_DSN}\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost/db", cfg.Storage.DSN)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "postgres without dsn",
			content: "storage:\n  backend: postgres\n",
			wantErr: "storage.dsn is required",
		},
		{
			name:    "unknown backend",
			content: "storage:\n  backend: cassandra\n",
			wantErr: "unknown storage backend",
		},
		{
			name:    "unknown log level",
			content: "logging:\n  level: loud\n",
			wantErr: "unknown logging level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
