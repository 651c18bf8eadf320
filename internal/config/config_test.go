// ABOUTME: Tests for YAML config loading, env expansion, durations, and validation
// ABOUTME: Uses temp files per test; no shared fixtures

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
database:
  path: "/tmp/test-agency.db"
cache:
  max_sessions: 64
  persistence:
    enabled: true
    mandatory: true
agency:
  concurrency: 8
  max_retries: 5
  retry_delay: "500ms"
  seat_timeout: "30s"
  shutdown_grace: "5s"
  success_threshold: 0.75
auth:
  jwt_secret: "test-secret"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/test-agency.db", cfg.Database.Path)
	assert.Equal(t, 64, cfg.Cache.MaxSessions)
	require.NotNil(t, cfg.Cache.Persistence.Enabled)
	assert.True(t, *cfg.Cache.Persistence.Enabled)
	assert.True(t, cfg.Cache.Persistence.Mandatory)
	assert.Equal(t, 8, cfg.Agency.Concurrency)
	assert.Equal(t, 5, cfg.Agency.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Agency.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.Agency.SeatTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agency.ShutdownGrace)
	assert.Equal(t, 0.75, cfg.Agency.SuccessThreshold)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "agency.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8745", cfg.Server.HTTPAddr)
	assert.Equal(t, 128, cfg.Cache.MaxSessions)
	require.NotNil(t, cfg.Cache.Persistence.Enabled)
	assert.True(t, *cfg.Cache.Persistence.Enabled)
	assert.False(t, cfg.Cache.Persistence.Mandatory)
	assert.Equal(t, 4, cfg.Agency.Concurrency)
	assert.Equal(t, 2, cfg.Agency.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Agency.RetryDelay)
	assert.Equal(t, 60*time.Second, cfg.Agency.SeatTimeout)
	assert.Equal(t, 10*time.Second, cfg.Agency.ShutdownGrace)
	assert.Equal(t, 0.5, cfg.Agency.SuccessThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_ExplicitPersistenceDisabled(t *testing.T) {
	path := writeConfig(t, `
cache:
  persistence:
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Cache.Persistence.Enabled)
	assert.False(t, *cfg.Cache.Persistence.Enabled)
}

func TestLoad_NegativeMaxRetriesDisablesRetries(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "agency.db"
agency:
  max_retries: -1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Agency.MaxRetries)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_AGENCY_DB", "/data/from-env.db")
	t.Setenv("TEST_AGENCY_SECRET", "env-secret")

	path := writeConfig(t, `
database:
  path: "${TEST_AGENCY_DB}"
auth:
  jwt_secret: "${TEST_AGENCY_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/from-env.db", cfg.Database.Path)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "before${DEFINITELY_NOT_SET_ANYWHERE}after"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "beforeafter", cfg.Database.Path)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "agency.db"
agency:
  retry_delay: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_delay")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "persistence enabled without database path",
			mutate: func(c *Config) {
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
		{
			name: "threshold above one",
			mutate: func(c *Config) {
				c.Agency.SuccessThreshold = 1.5
			},
			wantErr: "success_threshold",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: "logging.level",
		},
		{
			name: "bad log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}
