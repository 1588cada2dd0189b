package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimStore(t *testing.T) {
	store := NewMemoryClaimStore(time.Minute)
	defer store.Stop()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ok, err := store.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = store.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "an expired claim can be taken again")

	require.NoError(t, store.Release(ctx, "a"))
	ok, err = store.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _ = store.Claim(ctx, "b")
	now = now.Add(2 * time.Minute)
	store.cleanup()
	assert.Equal(t, 0, store.GetStats()["active_claims"])

	store.Stop()
}

func TestRedisClaimStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	first := NewRedisClaimStore(client, time.Minute)
	second := NewRedisClaimStore(client, time.Minute)

	ok, err := first.Claim(ctx, "android:GPA.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(claimKeyPrefix+"android:GPA.1"))

	ok, err = second.Claim(ctx, "android:GPA.1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(ctx, "android:GPA.1"))
	assert.True(t, mr.Exists(claimKeyPrefix+"android:GPA.1"), "only the owner releases a claim")

	require.NoError(t, first.Release(ctx, "android:GPA.1"))
	assert.False(t, mr.Exists(claimKeyPrefix+"android:GPA.1"))

	mr.FastForward(2 * time.Minute)
	ok, err = second.Claim(ctx, "android:GPA.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisClaimStore_ExpiredClaimTakenOver(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	first := NewRedisClaimStore(client, time.Minute)
	second := NewRedisClaimStore(client, time.Minute)

	ok, err := first.Claim(ctx, "ios:1000")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = second.Claim(ctx, "ios:1000")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Release(ctx, "ios:1000"))
	assert.True(t, mr.Exists(claimKeyPrefix+"ios:1000"), "a stale owner does not release the new claim")

	require.NoError(t, second.Release(ctx, "ios:1000"))
	assert.False(t, mr.Exists(claimKeyPrefix+"ios:1000"))
}

func TestRedisClaimStore_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisClaimStore(client, time.Minute)
	mr.Close()

	ok, err := store.Claim(context.Background(), "android:GPA.1")
	assert.Error(t, err)
	assert.False(t, ok)
}
