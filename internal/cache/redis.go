package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/metrics"
)

const redisKeyPrefix = "gaiaviz:dataset:"

// Redis stores query results in Redis so several serve instances share them.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps client. Entries expire after ttl; zero keeps them forever.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

// Get implements gaia.Cache.
func (r *Redis) Get(ctx context.Context, key string) (*gaia.Dataset, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.IncResultCache("redis", "miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.IncResultCache("redis", "error")
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var ds gaia.Dataset
	if err := jsonAPI.Unmarshal(data, &ds); err != nil {
		metrics.IncResultCache("redis", "error")
		return nil, false, fmt.Errorf("decoding cached dataset: %w", err)
	}
	metrics.IncResultCache("redis", "hit")
	return &ds, true, nil
}

// Put implements gaia.Cache.
func (r *Redis) Put(ctx context.Context, key string, ds *gaia.Dataset) error {
	data, err := jsonAPI.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
