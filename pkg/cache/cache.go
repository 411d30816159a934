// Package cache holds the key-value stores shared by the trader: an in-process
// LRU, Redis, and a layered pair of the two.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Store reads and writes JSON-compatible values. Get fills dest, which must
// be a non-nil pointer, or returns ErrCacheMiss.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Locker takes short-lived exclusive leases on keys.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Service interface {
	Store
	Locker
}

// Key joins parts with ':'.
func Key(parts ...interface{}) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = fmt.Sprint(p)
	}
	return strings.Join(s, ":")
}

var loads singleflight.Group

// GetOrLoad returns the cached value for key, or calls load and caches its
// result for ttl. Concurrent misses on the same store and key share one
// load. Cache errors other than a miss are ignored and load errors are not
// cached.
func GetOrLoad[T any](ctx context.Context, s Store, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if err := s.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	v, err, _ := loads.Do(fmt.Sprintf("%p|%s", s, key), func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		_ = s.Set(ctx, key, v, ttl)
		return v, nil
	})
	out, _ := v.(T)
	return out, err
}
