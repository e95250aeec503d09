package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// defaultMemoryTTL applies to entries written without an expiration.
const defaultMemoryTTL = 7 * 24 * time.Hour

type memoryItem struct {
	value    []byte
	expireAt time.Time
}

func (m memoryItem) expired(now time.Time) bool {
	return now.After(m.expireAt)
}

// MemoryCache implements Service on a size-bounded LRU. Expired entries are
// dropped on read and by a periodic sweep.
type MemoryCache struct {
	items *lru.Cache
	stop  chan struct{}
	once  sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// only fails for a non-positive size, which WithMemoryMaxSize rejects
	items, _ := lru.New(cfg.MaxSize)
	mc := &MemoryCache{items: items, stop: make(chan struct{})}
	if cfg.CleanupInterval > 0 {
		go mc.sweep(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = defaultMemoryTTL
	}
	mc.items.Add(key, memoryItem{value: data, expireAt: time.Now().Add(expiration)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	v, ok := mc.items.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	item := v.(memoryItem)
	if item.expired(time.Now()) {
		mc.items.Remove(key)
		return ErrCacheMiss
	}
	return decode(item.value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		mc.items.Remove(key)
	}
	return nil
}

// Exists does not refresh recency.
func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	now := time.Now()
	for _, key := range keys {
		if v, ok := mc.items.Peek(key); ok && !v.(memoryItem).expired(now) {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case now := <-ticker.C:
			for _, key := range mc.items.Keys() {
				if v, ok := mc.items.Peek(key); ok && v.(memoryItem).expired(now) {
					mc.items.Remove(key)
				}
			}
		}
	}
}

// Close stops the sweep loop.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}
