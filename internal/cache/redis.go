package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the shared backend used when several service
// instances run side by side.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	// TLSConfig is nil for plain connections.
	TLSConfig *tls.Config
}

func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Address: "localhost:6379",
	}
}

type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(options RedisOptions) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
		TLSConfig: options.TLSConfig,
	})}
}

// Ping checks the server is reachable.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
