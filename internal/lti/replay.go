package lti

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Replay marks (kind, value) pairs as consumed. Use returns true the first
// time a pair is seen and false while an earlier use is still within ttl.
type Replay interface {
	Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error)
}

// InMemoryReplay is a process-local Replay. It purges expired entries
// every purgeN calls.
type InMemoryReplay struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	useCount uint64
	purgeN   uint64
	now      func() time.Time
}

func NewInMemoryReplay(purgeEvery int) *InMemoryReplay {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &InMemoryReplay{
		entries: make(map[string]time.Time, 1024),
		purgeN:  uint64(purgeEvery),
		now:     time.Now,
	}
}

func (m *InMemoryReplay) Use(_ context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k, err := replayKey(kind, value)
	if err != nil {
		return false, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.useCount++
	if m.useCount%m.purgeN == 0 {
		for key, until := range m.entries {
			if !until.After(now) {
				delete(m.entries, key)
			}
		}
	}
	if until, ok := m.entries[k]; ok && until.After(now) {
		return false, nil
	}
	m.entries[k] = now.Add(ttl)
	return true, nil
}

// RedisReplay shares the replay window across gateway instances.
type RedisReplay struct {
	Client *redis.Client
	Prefix string
}

func NewRedisReplay(client *redis.Client) *RedisReplay {
	return &RedisReplay{Client: client, Prefix: "lti:replay:"}
}

func (r *RedisReplay) Use(ctx context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k, err := replayKey(kind, value)
	if err != nil {
		return false, err
	}
	ok, err := r.Client.SetNX(ctx, r.Prefix+k, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay: %w", err)
	}
	return ok, nil
}

func replayKey(kind, value string) (string, error) {
	kind = strings.TrimSpace(strings.ToLower(kind))
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return "", fmt.Errorf("replay: kind and value are required")
	}
	return kind + "|" + value, nil
}
