package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists hash fields per key.
type Store interface {
	// WriteHashes sets fields on every key in one round trip. ttl 0 means no
	// expiry.
	WriteHashes(ctx context.Context, hashes map[string]map[string]any, ttl time.Duration) error
}

// RedisStore writes through a pipelined redis client.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// WriteHashes implements Store.
func (s *RedisStore) WriteHashes(ctx context.Context, hashes map[string]map[string]any, ttl time.Duration) error {
	if len(hashes) == 0 {
		return nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, fields := range hashes {
			pipe.HSet(ctx, key, fields)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline (%d keys): %w", len(hashes), err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
