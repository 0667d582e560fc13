package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStorage maps keys onto plain redis strings under a prefix, so several
// storefront processes can share one server without colliding.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

func NewRedisStorage(addr, password, prefix string) *RedisStorage {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisStorageFromClient(c, prefix)
}

func NewRedisStorageFromClient(c *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{client: c, prefix: prefix}
}

func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return b, nil
}

// Set writes without a TTL; local storage never expires.
func (r *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStorage) Close() error { return r.client.Close() }

func (r *RedisStorage) key(k string) string { return r.prefix + k }
