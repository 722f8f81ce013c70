package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"brkt/internal/config"
)

func TestLoadParsesKnownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bvm.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[vm]
stack_capacity = 512
env_capacity = 128
frame_capacity = 32
disable_gc = true

[logging]
level = "debug"
json = true
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 512, cfg.VM.StackCapacity)
	require.Equal(t, 128, cfg.VM.EnvCapacity)
	require.Equal(t, 32, cfg.VM.FrameCapacity)
	require.True(t, cfg.VM.DisableGC)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.JSON)
}

func TestLoadMissingFileIsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.ErrorIs(t, err, config.ErrRead)
}

func TestLoadMalformedFileIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid toml"), 0o644))

	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrParse)
}

func TestDefaultHasSaneLoggingLevel(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, "info", cfg.Logging.Level)
}
