package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server. Keys are namespaced with a
// prefix so several gateway instances can share one server without
// colliding with other tenants.
type Redis struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedis connects to the Redis server described by rawURL
// (redis://host:port/db) and verifies the connection with a ping.
func NewRedis(ctx context.Context, rawURL, prefix string, defaultTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	if prefix != "" && prefix[len(prefix)-1] != ':' {
		prefix += ":"
	}
	return &Redis{client: client, prefix: prefix, defaultTTL: defaultTTL}, nil
}

// Get returns the value for key, or ErrMiss when Redis reports no entry.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores value under key; Redis handles expiry server-side.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key from Redis.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Len reports -1: counting keys server-side would require a scan.
func (r *Redis) Len() int { return -1 }

// Close closes the underlying Redis client.
func (r *Redis) Close() error { return r.client.Close() }
