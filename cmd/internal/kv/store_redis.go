package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis.
//
// Ownership model:
//   - RedisStore owns the client it was constructed from; Close closes it.
//
// Mapping:
//   - Put with TTL uses SET with expiry, so key existence tracks liveness
//     exactly (presence keys rely on this).
//   - List walks SCAN pages; the result is a point-in-time approximation
//     as the Store contract requires.
type RedisStore struct {
	client *redis.Client
}

const redisScanPageSize = 100

// NewRedisStore connects to addr-style URL ("redis://host:port/db") and
// validates connectivity before returning.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kv: redis ping: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes ownership.
func NewRedisStoreFromClient(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("kv: nil redis client")
	}
	return &RedisStore{client: client}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Get returns the value for key, or ErrNotFound when absent/expired.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("kv: empty key")
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: redis get: %w", err)
	}
	return data, nil
}

// Put writes value under key; a positive TTL arms Redis-side expiry.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, opts PutOptions) error {
	if key == "" {
		return errors.New("kv: empty key")
	}

	var ttl time.Duration
	if opts.TTL > 0 {
		ttl = opts.TTL
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: redis set: %w", err)
	}
	return nil
}

// Delete removes key; missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv: redis del: %w", err)
	}
	return nil
}

// List scans all live keys starting with prefix.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	match := prefix + "*"

	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := s.client.Scan(ctx, cursor, match, redisScanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("kv: redis scan: %w", err)
		}
		keys = append(keys, page...)

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Ping reports backend reachability, used by readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
