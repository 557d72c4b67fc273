// redis.go implements the Redis-backed session store used in production.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore persists sessions in Redis with per-key TTLs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, sid string) (*Data, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	data := &Data{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("session: corrupt session payload: %w", err)
	}
	return data, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sid string, data *Data, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sid, raw, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+sid).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}
