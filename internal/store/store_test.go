package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cutout/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "canvas")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "canvas", []byte(`{"objects":[]}`)))
	require.NoError(t, s.Set(ctx, "canvas", []byte(`{"objects":null}`)))
	got, err := s.Get(ctx, "canvas")
	require.NoError(t, err)
	assert.Equal(t, `{"objects":null}`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, s.Set(ctx, "../escape", nil))
	_, err = s.Get(ctx, "a/b")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(config.StoreConfig{Backend: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = New(config.StoreConfig{Backend: "redis", Redis: config.RedisConfig{Addr: "127.0.0.1:0", Prefix: "cutout:"}})
	require.NoError(t, err)
	rs := s.(*RedisStore)
	assert.Equal(t, "cutout:stack", rs.key("stack"))
	require.NoError(t, s.Close())

	_, err = New(config.StoreConfig{Backend: "bolt"})
	assert.Error(t, err)
}
