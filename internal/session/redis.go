package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps LaunchSessions as JSON with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{client: client, prefix: "lti:session:", ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, id string) (*LaunchSession, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return &LaunchSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var ls LaunchSession
	if err := json.Unmarshal(raw, &ls); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &ls, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, ls *LaunchSession) error {
	raw, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+id, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
