package visibility

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ExclusionCache stores a viewer's exclusion set for a short time.
type ExclusionCache interface {
	// Get returns the cached set. ok is false on a miss.
	Get(ctx context.Context, viewer string) (ids []string, ok bool, err error)
	Set(ctx context.Context, viewer string, ids []string, ttl time.Duration) error
	Delete(ctx context.Context, viewers ...string) error
}

type cacheEntry struct {
	ids       []string
	expiresAt time.Time
}

// MemoryCache is a process-local ExclusionCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, viewer string) ([]string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[viewer]
	if !exists {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		return nil, false, nil
	}
	out := make([]string, len(entry.ids))
	copy(out, entry.ids)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, viewer string, ids []string, ttl time.Duration) error {
	entry := &cacheEntry{ids: append([]string(nil), ids...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[viewer] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, viewers ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range viewers {
		delete(c.entries, v)
	}
	return nil
}

// RedisCache keeps exclusion sets in Redis as JSON arrays so that several
// service instances share invalidations.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache wraps client. Keys are "<prefix>excluded:<viewer>".
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisCache) key(viewer string) string {
	return c.prefix + "excluded:" + viewer
}

func (c *RedisCache) Get(ctx context.Context, viewer string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.key(viewer)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("decode exclusion set: %w", err)
	}
	return ids, true, nil
}

func (c *RedisCache) Set(ctx context.Context, viewer string, ids []string, ttl time.Duration) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode exclusion set: %w", err)
	}
	if err := c.client.Set(ctx, c.key(viewer), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, viewers ...string) error {
	if len(viewers) == 0 {
		return nil
	}
	keys := make([]string, len(viewers))
	for i, v := range viewers {
		keys[i] = c.key(v)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
