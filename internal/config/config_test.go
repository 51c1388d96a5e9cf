package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "6000", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Server.BodyLimitMB)
	assert.Equal(t, 50*1024*1024, cfg.BodyLimit())
	assert.Equal(t, 22050, cfg.Audio.SampleRate)
	assert.InDelta(t, 15.0, cfg.Analysis.TrimSeconds, 1e-9)
	assert.InDelta(t, 1.006, cfg.Analysis.CorrectionFactor, 1e-9)
	assert.True(t, cfg.Analysis.RoundTempo)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Auth.Enabled)
	assert.False(t, cfg.Storage.S3Configured())
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("ANALYSIS_ROUND_TEMPO", "false")
	t.Setenv("ANALYSIS_CORRECTION_FACTOR", "1.0")
	t.Setenv("CACHE_TTL", "10m")
	t.Setenv("STORAGE_ACCESS_KEY_ID", "key")
	t.Setenv("STORAGE_SECRET_ACCESS_KEY", "secret")
	t.Setenv("STORAGE_BUCKET_NAME", "uploads")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.False(t, cfg.Analysis.RoundTempo)
	assert.InDelta(t, 1.0, cfg.Analysis.CorrectionFactor, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Storage.S3Configured())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := []byte("server:\n  log_level: debug\nanalysis:\n  start_bpm: 100\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.InDelta(t, 100.0, cfg.Analysis.StartBPM, 1e-9)
}

func TestReadSecretFromFile(t *testing.T) {
	chdir(t, t.TempDir())
	secretPath := filepath.Join(t.TempDir(), "jwt")
	require.NoError(t, os.WriteFile(secretPath, []byte("  s3cret\n"), 0o600))

	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", secretPath)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestOnLogLevelChangeWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.OnLogLevelChange(func(string) {}))
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
