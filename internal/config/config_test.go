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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  url: postgres://localhost/cohorts_test?sslmode=disable
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/cohorts_test?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "ses", cfg.Provider.Name)
	assert.Equal(t, "us-east-1", cfg.Provider.SES.Region)
	assert.Equal(t, 5, cfg.Scheduler.MaxEnqueueAttempts)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RetryBase())
	assert.Equal(t, time.Hour, cfg.Scheduler.RetryMax())
	assert.Equal(t, "@every 10m", cfg.Scheduler.AuditCron)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
provider:
  ses:
    region: eu-west-1
    timeout_seconds: 10
  sender:
    from_email: coach@meridian.example
    from_name: Meridian Coach
scheduler:
  max_enqueue_attempts: 3
  retry_base_seconds: 5
  retry_max_seconds: 60
  dispatch_workers: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Provider.SES.Region)
	assert.Equal(t, 10*time.Second, cfg.Provider.SES.Timeout())
	assert.Equal(t, "coach@meridian.example", cfg.Provider.Sender.FromEmail)
	assert.Equal(t, 3, cfg.Scheduler.MaxEnqueueAttempts)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RetryBase())
	assert.Equal(t, time.Minute, cfg.Scheduler.RetryMax())
	assert.Equal(t, 8, cfg.Scheduler.DispatchWorkers)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/dev
`)

	t.Setenv("DATABASE_URL", "postgres://prod-host/cohorts")
	t.Setenv("REDIS_ADDR", "redis-host:6379")
	t.Setenv("AWS_SES_REGION", "us-west-2")
	t.Setenv("MAX_ENQUEUE_ATTEMPTS", "7")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://prod-host/cohorts", cfg.Database.URL)
	assert.Equal(t, "redis-host:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "us-west-2", cfg.Provider.SES.Region)
	assert.Equal(t, 7, cfg.Scheduler.MaxEnqueueAttempts)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
