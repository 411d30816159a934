package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/pkg/cache"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (*CacheSymbolLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	rc, err := cache.NewRedisCache(cache.WithRedisAddr(mr.Addr()), cache.WithRedisPrefix("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisSymbolLocker(rc, ttl), mr
}

func TestSymbolLockerSerializes(t *testing.T) {
	redisLocker, _ := newRedisLocker(t, time.Minute)
	lockers := map[string]*CacheSymbolLocker{
		"memory": NewMemorySymbolLocker(time.Minute),
		"redis":  redisLocker,
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			var inside, maxInside int32
			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					unlock, err := locker.Lock(ctx, "AAPL")
					if !assert.NoError(t, err) {
						return
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestSymbolLockerIndependentSymbols(t *testing.T) {
	locker := NewMemorySymbolLocker(time.Minute)
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "AAPL")
	require.NoError(t, err)
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx2, "MSFT")
	require.NoError(t, err)
	unlockB()
}

func TestSymbolLockerHonorsContext(t *testing.T) {
	locker, _ := newRedisLocker(t, time.Minute)

	unlock, err := locker.Lock(context.Background(), "AAPL")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "AAPL")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSymbolLockerExpiresAbandonedLock(t *testing.T) {
	locker, mr := newRedisLocker(t, 2*time.Second)

	_, err := locker.Lock(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:symbol:AAPL"))

	mr.FastForward(3 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock, err := locker.Lock(ctx, "AAPL")
	require.NoError(t, err)
	unlock()
	assert.False(t, mr.Exists("test:lock:symbol:AAPL"))
}
