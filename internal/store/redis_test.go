package store

import (
	"context"
	"testing"
	"time"

	"cutout/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(config.RedisConfig{Addr: mr.Addr(), Prefix: "cutout:", TTL: ttl})
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t, 0)
	require.NoError(t, s.Ping(ctx))

	_, err := s.Get(ctx, "canvas")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "canvas", []byte(`{"objects":[]}`)))
	got, err := s.Get(ctx, "canvas")
	require.NoError(t, err)
	assert.Equal(t, `{"objects":[]}`, string(got))

	raw, err := mr.Get("cutout:canvas")
	require.NoError(t, err)
	assert.Equal(t, `{"objects":[]}`, raw)
	assert.False(t, mr.Exists("canvas"))
	assert.Zero(t, mr.TTL("cutout:canvas"))
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedis(t, time.Minute)

	require.NoError(t, s.Set(ctx, "stack", []byte(`[]`)))
	assert.Equal(t, time.Minute, mr.TTL("cutout:stack"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, "stack")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ServerDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, mr := newTestRedis(t, 0)
	mr.Close()

	_, err := s.Get(ctx, "canvas")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
