package users

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisListingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRedisListingCache(client, 30*time.Second)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := []HelpRequest{{ID: 1, Name: "Alice", Address: "1 River Rd", Telephone: "555-0100"}}
	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	stored, err := cache.Set(ctx, gen, want)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(31 * time.Second)
	_, ok, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "entries expire after the ttl")

	_, err = cache.Set(ctx, gen, want)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))
	_, ok, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisListingCacheSkipsRefillAfterInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRedisListingCache(client, time.Minute)
	ctx := context.Background()

	before, err := cache.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx))
	after, err := cache.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	stale := []HelpRequest{{ID: 1, Name: "Alice"}}
	stored, err := cache.Set(ctx, before, stale)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(listingCacheKey))

	stored, err = cache.Set(ctx, after, stale)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists(listingCacheKey))
}

func TestRedisListingCacheRejectsCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, mr.Set(listingCacheKey, "{not json"))

	_, ok, err := NewRedisListingCache(client, time.Minute).Get(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
