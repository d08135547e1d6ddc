package lti

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryReplay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := NewInMemoryReplay(2)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := r.Use(ctx, "id_token_nonce", "n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Use(ctx, "ID_TOKEN_NONCE", "n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "kind is case-insensitive")

	now = now.Add(2 * time.Minute)
	ok, err = r.Use(ctx, "id_token_nonce", "n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "usable again after the window")

	_, err = r.Use(ctx, "id_token_nonce", "", time.Minute)
	require.Error(t, err)
}

func TestRedisReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisReplay(client)
	ctx := context.Background()

	ok, err := r.Use(ctx, "id_token_nonce", "n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("lti:replay:id_token_nonce|n-1"))

	ok, err = r.Use(ctx, "id_token_nonce", "n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = r.Use(ctx, "id_token_nonce", "n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
