// Package cache keeps resolved targets so repeated runs for the same business
// skip the slug walk.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/harrow/internal/metrics"
	"github.com/FranksOps/harrow/internal/resolver"
	"github.com/FranksOps/harrow/internal/review"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key written by Redis.
const KeyPrefix = "harrow:target:"

var _ resolver.Cache = (*Redis)(nil)

// Redis is a resolver.Cache backed by a Redis server.
type Redis struct {
	c *redis.Client
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", addr, err)
	}
	return &Redis{c: c}, nil
}

func (r *Redis) Get(ctx context.Context, slug string) (review.Target, bool, error) {
	var t review.Target
	v, err := r.c.Get(ctx, KeyPrefix+slug).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveCache("redis", "miss")
		return t, false, nil
	}
	if err != nil {
		metrics.ObserveCache("redis", "error")
		return t, false, fmt.Errorf("cache: get %s: %w", slug, err)
	}
	if err := json.Unmarshal(v, &t); err != nil {
		metrics.ObserveCache("redis", "error")
		return t, false, fmt.Errorf("cache: decode %s: %w", slug, err)
	}
	metrics.ObserveCache("redis", "hit")
	return t, true, nil
}

func (r *Redis) Set(ctx context.Context, slug string, t review.Target, ttl time.Duration) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", slug, err)
	}
	metrics.ObserveCache("redis", "set")
	if err := r.c.Set(ctx, KeyPrefix+slug, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", slug, err)
	}
	return nil
}

// Del drops the cached target for slug.
func (r *Redis) Del(ctx context.Context, slug string) error {
	return r.c.Del(ctx, KeyPrefix+slug).Err()
}

func (r *Redis) Close() error {
	return r.c.Close()
}
