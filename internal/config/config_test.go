package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flowmesh/controlplane/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenPathEmpty(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.Bind)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Empty(t, cfg.Bind)
}

func TestLoadParsesTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controlplane.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind = "0.0.0.0:9000"
log_level = "debug"
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Bind)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controlplane.toml")
	require.NoError(t, os.WriteFile(path, []byte(`bind = "0.0.0.0:9000"`), 0o644))

	t.Setenv("CONTROLPLANE_BIND", "0.0.0.0:9500")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9500", cfg.Bind)
}
