package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Realtime.Store.Backend)
	assert.Equal(t, ":8080", cfg.REST.ListenAddr)
	assert.Equal(t, ":8081", cfg.WS.ListenAddr)
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Realtime.RateLimit.PerMinute, cfg.Realtime.RateLimit.PerMinute)
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	base := `
logging:
  level: debug
realtime:
  rate_limit:
    per_minute: 10
rest:
  listen_addr: ":9090"
`
	local := `
realtime:
  rate_limit:
    per_minute: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(base), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.yml"), []byte(local), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9090", cfg.REST.ListenAddr)
	assert.Equal(t, 20, cfg.Realtime.RateLimit.PerMinute, "local overrides base")
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"),
		[]byte("logging:\n  level: shouting\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"),
		[]byte("logging: [unbalanced"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
