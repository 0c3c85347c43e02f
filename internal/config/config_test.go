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

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, "@every 1m", cfg.Sweeper.Schedule)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Outbox.MaxBackoff)
	assert.Equal(t, "user_id", cfg.Lark.ReceiveIDType)
	assert.False(t, cfg.Lark.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
outbox:
  poll_interval: 250ms
  batch_size: 20
sweeper:
  schedule: "*/5 * * * *"
lark:
  enabled: true
  app_id: from-file
`)
	t.Setenv("APPROVAL_SERVER_PORT", "9191")
	t.Setenv("LARK_APP_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
	assert.Equal(t, 20, cfg.Outbox.BatchSize)
	assert.Equal(t, "*/5 * * * *", cfg.Sweeper.Schedule)
	assert.Equal(t, "from-file", cfg.Lark.AppID)
	assert.Equal(t, "s3cret", cfg.Lark.AppSecret)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, 9191, cc.Server.Port)
	assert.Equal(t, "s3cret", cc.Lark.AppSecret)
	assert.Equal(t, 20, cc.Outbox.BatchSize)
	require.NoError(t, cc.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
lark:
  enabled: true
logger:
  format: xml
`)
	t.Setenv("LARK_APP_ID", "")
	t.Setenv("LARK_APP_SECRET", "")

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "lark.app_id is required")
	assert.ErrorContains(t, err, "lark.app_secret is required")
	assert.ErrorContains(t, err, "logger.format")
}

func TestValidate_Backoff(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Outbox.MaxBackoff = cfg.Outbox.BaseBackoff / 2
	assert.ErrorContains(t, cfg.Validate(), "backoff")
}
