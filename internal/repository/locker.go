package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"AutoTrader/pkg/cache"
	applogger "AutoTrader/pkg/logger"
)

const symbolLockPrefix = "lock:symbol"

// LockBackend is the cache.Locker used for symbol locks.
type LockBackend interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// CacheSymbolLocker holds per-symbol locks in a cache. A MemoryCache backend
// serializes within one process; a RedisCache backend across replicas.
type CacheSymbolLocker struct {
	backend LockBackend
	ttl     time.Duration
	poll    time.Duration
	l       *applogger.Logger
}

// NewCacheSymbolLocker creates a locker. ttl bounds how long a crashed holder
// can block a symbol.
func NewCacheSymbolLocker(backend LockBackend, ttl time.Duration) *CacheSymbolLocker {
	return &CacheSymbolLocker{
		backend: backend,
		ttl:     ttl,
		poll:    25 * time.Millisecond,
		l:       applogger.Nop(),
	}
}

// SetLogger injects a logger.
func (s *CacheSymbolLocker) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l.Component("symbol_locker")
	}
}

// Lock polls until the symbol is acquired or ctx is done.
func (s *CacheSymbolLocker) Lock(ctx context.Context, symbol string) (func(), error) {
	key := cache.Key(symbolLockPrefix, symbol)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.poll
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		ok, err := s.backend.TryLock(ctx, key, s.ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("lock %s: %w", symbol, ctxErr)
		}
		return nil, fmt.Errorf("lock %s: %w", symbol, err)
	}

	return func() {
		// the caller's ctx may already be done
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.backend.Unlock(uctx, key); err != nil {
			s.l.Warn("symbol unlock failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}, nil
}

var errLockHeld = errors.New("lock held")

// NewMemorySymbolLocker serializes symbols within this process.
func NewMemorySymbolLocker(ttl time.Duration) *CacheSymbolLocker {
	return NewCacheSymbolLocker(cache.NewMemoryCache(cache.WithMemoryMaxSize(10_000)), ttl)
}

// NewRedisSymbolLocker serializes symbols across every instance sharing rc.
func NewRedisSymbolLocker(rc *cache.RedisCache, ttl time.Duration) *CacheSymbolLocker {
	return NewCacheSymbolLocker(rc, ttl)
}
