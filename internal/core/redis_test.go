// AngelaMos | 2026
// redis_test.go

package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/rentals/backend/internal/config"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), config.RedisConfig{
		URL:      "redis://" + mr.Addr(),
		PoolSize: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	return mr, r
}

func TestTokenBlacklist(t *testing.T) {
	mr, r := newTestRedis(t)
	ctx := context.Background()
	blacklist := NewTokenBlacklist(r.Client)

	require.NoError(t, blacklist.Add(ctx, "jti-1", time.Now().Add(time.Minute)))

	listed, err := blacklist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, listed)

	ttl := mr.TTL("blacklist:jti-1")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	listed, err = blacklist.Contains(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, listed)

	mr.FastForward(2 * time.Minute)

	listed, err = blacklist.Contains(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestTokenBlacklist_SkipsExpiredTokens(t *testing.T) {
	mr, r := newTestRedis(t)
	ctx := context.Background()
	blacklist := NewTokenBlacklist(r.Client)

	require.NoError(t, blacklist.Add(ctx, "jti-old", time.Now().Add(-time.Second)))
	require.NoError(t, blacklist.Add(ctx, "", time.Now().Add(time.Minute)))

	assert.Empty(t, mr.Keys())

	listed, err := blacklist.Contains(ctx, "")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestTokenBlacklist_Unavailable(t *testing.T) {
	mr, r := newTestRedis(t)
	blacklist := NewTokenBlacklist(r.Client)

	mr.Close()

	_, err := blacklist.Contains(context.Background(), "jti-1")
	require.Error(t, err)
}

func TestRedis_PingAndStats(t *testing.T) {
	_, r := newTestRedis(t)

	require.NoError(t, r.Ping(context.Background()))
	assert.NotNil(t, r.PoolStats())
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), config.RedisConfig{URL: "://nope"})
	require.Error(t, err)
}
