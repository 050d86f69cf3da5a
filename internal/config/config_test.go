package config

import (
	"os"
	"path/filepath"
	"testing"

	"project-downlink/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "downlink.yaml")
	data := `
data_dir: /var/lib/downlink
session_id: test.session
api_port: 5555
max_concurrent: 2
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/downlink", cfg.DataDir)
	assert.Equal(t, filepath.Join("/var/lib/downlink", "tmp"), cfg.TempDir)
	assert.Equal(t, "test.session", cfg.SessionID)
	assert.Equal(t, 5555, cfg.APIPort)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, Default().DefaultDestination, cfg.DefaultDestination)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("api_port: [1"), 0644))
	_, err := Load(bad)
	assert.Error(t, err)

	neg := filepath.Join(dir, "neg.yaml")
	require.NoError(t, os.WriteFile(neg, []byte("max_concurrent: -1"), 0644))
	_, err = Load(neg)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DOWNLINK_API_PORT", "6000")
	t.Setenv("DOWNLINK_LOG_LEVEL", "warn")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())
	assert.Equal(t, 6000, cfg.APIPort)
	assert.Equal(t, "warn", cfg.LogLevel)

	t.Setenv("DOWNLINK_API_PORT", "nope")
	assert.Error(t, cfg.LoadFromEnv())
}

func TestConfigManager(t *testing.T) {
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	c := NewConfigManager(s)

	token := c.GetAPIToken()
	assert.Len(t, token, 32)
	assert.Equal(t, token, c.GetAPIToken())

	assert.False(t, c.GetEnableAPI())
	require.NoError(t, c.SetEnableAPI(true))
	assert.True(t, c.GetEnableAPI())

	assert.True(t, c.GetBackgroundUpdates())
	require.NoError(t, c.SetBackgroundUpdates(false))
	assert.False(t, c.GetBackgroundUpdates())

	assert.True(t, c.GetCleanShutdown("s1"))
	require.NoError(t, c.SetCleanShutdown("s1", false))
	assert.False(t, c.GetCleanShutdown("s1"))
	assert.True(t, c.GetCleanShutdown("s2"))
}
