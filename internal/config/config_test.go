package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  mode: production\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Log.Mode)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "models/mobilesam.decoder.onnx", cfg.Models.Decoder)
	assert.Equal(t, 30*time.Second, cfg.Editor.AutosaveInterval)
	assert.True(t, cfg.Runtime.UseCUDA)
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
store:
  backend: redis
  redis:
    addr: cache:6379
    ttl: 1h
runtime:
  use_cuda: false
  threads: 4
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, "cutout:", cfg.Store.Redis.Prefix)
	assert.False(t, cfg.Runtime.UseCUDA)
	assert.Equal(t, 4, cfg.Runtime.Threads)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
