package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeHomeConfig sets HOME to a temp dir and writes config.yaml there
// with the given permissions. Returns the config path.
func writeHomeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "meshd")
	require.NoError(t, os.MkdirAll(dir, 0700))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeHomeConfig(t, `
server:
  port: 9100
  shutdown_timeout: 5s
cache:
  addr: redis.internal:6379
  default_ttl: 30m
fleet:
  max_concurrent_cycles: 4
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Addr)
	assert.Equal(t, int64(4), cfg.Fleet.MaxConcurrentCycles)
	// Untouched sections keep their defaults.
	assert.Equal(t, 64, cfg.Mesh.InboxSize)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeHomeConfig(t, "server:\n  port: 9100\n", 0600)

	t.Setenv("MESHD_SERVER_PORT", "9200")
	t.Setenv("MESHD_CACHE_ADDR", "cache.internal:6380")
	t.Setenv("MESHD_MESH_BRIDGE__ENABLED", "true")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "cache.internal:6380", cfg.Cache.Addr)
	assert.True(t, cfg.Mesh.Bridge.Enabled)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadWithFile_RejectsOpenPermissions(t *testing.T) {
	path := writeHomeConfig(t, "server:\n  port: 9100\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadWithFile_RejectsOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 9100\n"), 0600))

	_, err := LoadWithFile(outside)
	assert.Error(t, err)
}

func TestLoadWithFile_RejectsMalformedYAML(t *testing.T) {
	path := writeHomeConfig(t, "server: [not a map", 0600)

	_, err := LoadWithFile(path)
	assert.Error(t, err)
}
