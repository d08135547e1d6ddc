package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store, expire func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, &LaunchSession{}, got)

	want := &LaunchSession{State: "st", Nonce: "nn", DLReturnURL: "https://lms/return", DLData: "d"}
	require.NoError(t, s.Save(ctx, "sid-1", want))
	got, err = s.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Loaded values are copies.
	got.State = "changed"
	again, err := s.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, "st", again.State)

	require.NoError(t, s.Delete(ctx, "sid-1"))
	got, err = s.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.Empty(t, got.State)

	require.NoError(t, s.Save(ctx, "sid-2", want))
	expire(2 * time.Hour)
	got, err = s.Load(ctx, "sid-2")
	require.NoError(t, err)
	assert.Empty(t, got.State, "expired sessions load empty")

	require.NoError(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore(time.Hour)
	s.now = func() time.Time { return now }
	exerciseStore(t, s, func(d time.Duration) { now = now.Add(d) })
}

func TestMemoryStorePurgesPeriodically(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore(time.Minute)
	s.now = func() time.Time { return now }
	s.purgeEvery = 4

	require.NoError(t, s.Save(ctx, "a", &LaunchSession{}))
	require.NoError(t, s.Save(ctx, "b", &LaunchSession{}))
	now = now.Add(2 * time.Minute)

	require.NoError(t, s.Save(ctx, "c", &LaunchSession{}))
	assert.Len(t, s.data, 3, "stale entries stay until the sweep")

	require.NoError(t, s.Save(ctx, "d", &LaunchSession{}))
	assert.Len(t, s.data, 2)
	assert.NotContains(t, s.data, "a")
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, time.Hour)
	exerciseStore(t, s, mr.FastForward)

	require.NoError(t, s.Save(context.Background(), "sid-3", &LaunchSession{State: "x"}))
	assert.True(t, mr.Exists("lti:session:sid-3"))
	assert.Equal(t, time.Hour, mr.TTL("lti:session:sid-3"))
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, time.Hour)
	mr.Close()

	_, err := s.Load(context.Background(), "sid")
	require.Error(t, err)
	require.Error(t, s.Ping(context.Background()))
}
