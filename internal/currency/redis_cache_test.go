package currency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewRedisCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "pos:rates:USD", testSnapshot(), time.Minute))

	snap, found, err := cache.Get(ctx, "pos:rates:USD")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "USD", snap.Base)

	rate, ok := snap.Rate("IDR")
	require.True(t, ok)
	assert.True(t, rate.Equal(decimal.NewFromInt(16000)))
}

func TestRedisCacheMiss(t *testing.T) {
	cache, _ := setupRedisCache(t)

	snap, found, err := cache.Get(context.Background(), "pos:rates:USD")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}

func TestRedisCacheCorruptEntry(t *testing.T) {
	cache, mr := setupRedisCache(t)

	require.NoError(t, mr.Set("pos:rates:USD", "{not json"))

	_, _, err := cache.Get(context.Background(), "pos:rates:USD")
	assert.Error(t, err)
}

func TestRedisCacheSetsTTL(t *testing.T) {
	cache, mr := setupRedisCache(t)

	require.NoError(t, cache.Set(context.Background(), "pos:rates:USD", testSnapshot(), 5*time.Minute))
	assert.Equal(t, 5*time.Minute, mr.TTL("pos:rates:USD"))
}

func TestRedisCacheIgnoresNilSnapshot(t *testing.T) {
	cache, mr := setupRedisCache(t)

	require.NoError(t, cache.Set(context.Background(), "pos:rates:USD", nil, time.Minute))
	assert.False(t, mr.Exists("pos:rates:USD"))
}
