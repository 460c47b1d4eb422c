package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps payloads in redis under prefix+userKey. SET is atomic, so
// the last SET to reach the server wins.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(userKey string) string {
	return s.prefix + userKey
}

func (s *RedisStore) Put(ctx context.Context, userKey, payload string) error {
	if err := s.client.Set(ctx, s.key(userKey), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(userKey), err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userKey string) (string, bool, error) {
	payload, err := s.client.Get(ctx, s.key(userKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", s.key(userKey), err)
	}
	return payload, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
