package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore holds short-lived one-time values (OAuth state, pending 2FA
// logins). Consume removes the entry atomically, so a value can only ever be
// redeemed once.
type StateStore struct {
	Redis *redis.Client
}

func (s *StateStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.Redis.Set(ctx, key, data, ttl).Err()
}

func (s *StateStore) Consume(ctx context.Context, key string) ([]byte, error) {
	data, err := s.Redis.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
