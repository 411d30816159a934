package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

const defaultMemorySize = 1000

type memoryEntry struct {
	key     string
	value   interface{}
	expires time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryCache is a bounded LRU. Expired entries are dropped when read or
// when they reach the cold end of the list.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	maxSize int
	now     func() time.Time
}

type MemoryOption func(*MemoryCache)

func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: defaultMemorySize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores value; ttl <= 0 keeps it until evicted.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value, ttl)
	return nil
}

func (c *MemoryCache) put(key string, value interface{}, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, value: value, expires: expires})
	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
}

func (c *MemoryCache) lookup(key string) (*memoryEntry, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryEntry)
	if e.expired(c.now()) {
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e, true
}

func (c *MemoryCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}

func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	e, ok := c.lookup(key)
	var v interface{}
	if ok {
		v = e.value
	}
	c.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return assign(dest, v)
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if el, ok := c.items[k]; ok {
			c.remove(el)
		}
	}
	return nil
}

// TryLock succeeds when key is absent or expired. The lease counts against
// the LRU bound like any other entry.
func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.lookup(key); held {
		return false, nil
	}
	c.put(key, true, ttl)
	return true, nil
}

func (c *MemoryCache) Unlock(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// assign copies v into the pointer dest, going through JSON when the stored
// type differs from the target.
func assign(dest, v interface{}) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("cache: dest must be a non-nil pointer, got %T", dest)
	}
	val := reflect.ValueOf(v)
	if val.IsValid() && val.Type().AssignableTo(rv.Elem().Type()) {
		rv.Elem().Set(val)
		return nil
	}

	var raw []byte
	switch b := v.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

var _ Service = (*MemoryCache)(nil)
