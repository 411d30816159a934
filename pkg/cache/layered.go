package cache

import (
	"context"
	"reflect"
	"time"
)

// LayeredCache reads through a process-local LRU to Redis and writes to both.
// Locks live in Redis only.
type LayeredCache struct {
	local  *MemoryCache
	remote *RedisCache
	// localTTL caps how long a value read from Redis is served locally.
	localTTL time.Duration
}

func NewLayeredCache(remote *RedisCache, localSize int, localTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		local:    NewMemoryCache(WithMemoryMaxSize(localSize)),
		remote:   remote,
		localTTL: localTTL,
	}
}

func (c *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, key, value, c.capTTL(ttl))
}

func (c *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := c.local.Get(ctx, key, dest); err == nil {
		return nil
	}
	if err := c.remote.Get(ctx, key, dest); err != nil {
		return err
	}
	return c.local.Set(ctx, key, reflect.ValueOf(dest).Elem().Interface(), c.localTTL)
}

func (c *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = c.local.Delete(ctx, keys...)
	return c.remote.Delete(ctx, keys...)
}

func (c *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.remote.TryLock(ctx, key, ttl)
}

func (c *LayeredCache) Unlock(ctx context.Context, key string) error {
	return c.remote.Unlock(ctx, key)
}

func (c *LayeredCache) capTTL(ttl time.Duration) time.Duration {
	if c.localTTL > 0 && (ttl <= 0 || ttl > c.localTTL) {
		return c.localTTL
	}
	return ttl
}

var _ Service = (*LayeredCache)(nil)
