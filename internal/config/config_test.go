package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orgsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "orgsync.db", cfg.Store.Path)
	assert.Equal(t, ".accountignore", cfg.Source.IgnoreFile)
	assert.Equal(t, 1000, cfg.Cloud.PageSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Cloud.PageDelay)
	assert.Equal(t, 5*time.Minute, cfg.Sync.RetryDelay)
	assert.Equal(t, "-", cfg.Sync.DeptNameStep)
	assert.Equal(t, 4, cfg.Sync.MembershipConcurrency)
	assert.Equal(t, 6, cfg.Staging.RetentionMonths)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/orgsync/mirror.db
cloud:
  app_id: file-app
  page_delay: 0s
  rate_limit: 2.5
sync:
  root_id: "1000"
  no_add_dept: true
  retry_delay: 90s
staging:
  retention_months: 3
`)
	t.Setenv("ORGSYNC_CLOUD_APP_ID", "env-app")
	t.Setenv("ORGSYNC_SYNC_BIND_BY_NAME", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/orgsync/mirror.db", cfg.Store.Path)
	assert.Equal(t, "env-app", cfg.Cloud.AppID, "environment wins over the file")
	assert.Equal(t, time.Duration(0), cfg.Cloud.PageDelay)
	assert.Equal(t, 2.5, cfg.Cloud.RateLimit)
	assert.Equal(t, 2, cfg.Cloud.RateBurst())
	assert.Equal(t, "1000", cfg.Sync.RootID)
	assert.True(t, cfg.Sync.NoAddDept)
	assert.True(t, cfg.Sync.BindByName)
	assert.Equal(t, 90*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, 3, cfg.Staging.RetentionMonths)
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"page size", "cloud:\n  page_size: 5000\n", "page_size"},
		{"log level", "log:\n  level: verbose\n", "level"},
		{"empty store", "store:\n  path: \"\"\n", "path"},
		{"base url", "cloud:\n  base_url: ftp://example.com\n", "base_url"},
		{"concurrency", "sync:\n  membership_concurrency: 0\n", "membership_concurrency"},
		{"retention", "staging:\n  retention_months: -1\n", "retention_months"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestRateBurst(t *testing.T) {
	assert.Equal(t, 1, CloudConfig{}.RateBurst())
	assert.Equal(t, 1, CloudConfig{RateLimit: 0.5}.RateBurst())
	assert.Equal(t, 10, CloudConfig{RateLimit: 10}.RateBurst())
}
