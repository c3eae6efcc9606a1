package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.JournalDir)
	assert.Contains(t, cfg.API.BaseURL, "https://")
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, float64(4), cfg.API.RatePerSec)
	assert.Equal(t, ":8420", cfg.Status.Addr)
	assert.Equal(t, 10, cfg.Outbox.MaxAttempts)
	assert.False(t, cfg.Stealth)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
journal_dir: /games/elite/journal
stealth: true
api:
  base_url: https://example.test
  key: abc123
  timeout: 5s
status:
  addr: ":9000"
outbox:
  path: /var/lib/colonybridge/outbox.db
  max_attempts: 3
  interval: 2s
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/games/elite/journal", cfg.JournalDir)
	assert.True(t, cfg.Stealth)
	assert.Equal(t, "https://example.test", cfg.API.BaseURL)
	assert.Equal(t, "abc123", cfg.API.Key)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, ":9000", cfg.Status.Addr)
	assert.Equal(t, "/var/lib/colonybridge/outbox.db", cfg.Outbox.Path)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Outbox.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal_dir: /from/file\n"), 0o644))

	t.Setenv("JOURNAL_DIR", "/from/env")
	t.Setenv("RC_API_KEY", "envkey")
	t.Setenv("STEALTH", "true")
	t.Setenv("STATUS_ADDR", ":7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.JournalDir)
	assert.Equal(t, "envkey", cfg.API.Key)
	assert.True(t, cfg.Stealth)
	assert.Equal(t, ":7777", cfg.Status.Addr)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, cfg.API.BaseURL)
}

func TestInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal_dir: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
