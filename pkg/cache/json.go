package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// VersionedCache stores JSON values under a per-scope generation number.
// Bumping the generation invalidates every value of the scope at once,
// without scanning keys.
type VersionedCache interface {
	Get(ctx context.Context, scope, key string, dest any) (bool, error)
	Set(ctx context.Context, scope, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, scope string) error
}

// RedisVersionedCache implements VersionedCache on Redis.
type RedisVersionedCache struct {
	client *redis.Client
	prefix string
}

// NewRedisVersionedCache creates a cache whose keys start with prefix
func NewRedisVersionedCache(client *redis.Client, prefix string) *RedisVersionedCache {
	return &RedisVersionedCache{client: client, prefix: prefix}
}

func (c *RedisVersionedCache) generation(ctx context.Context, scope string) (int64, error) {
	gen, err := c.client.Get(ctx, c.prefix+"gen:"+scope).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisVersionedCache) key(scope string, gen int64, key string) string {
	return c.prefix + scope + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

// Get loads key into dest; false means miss
func (c *RedisVersionedCache) Get(ctx context.Context, scope, key string, dest any) (bool, error) {
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("cache generation: %w", err)
	}
	raw, err := c.client.Get(ctx, c.key(scope, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

// Set stores value under the current generation
func (c *RedisVersionedCache) Set(ctx context.Context, scope, key string, value any, ttl time.Duration) error {
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return fmt.Errorf("cache generation: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.client.Set(ctx, c.key(scope, gen, key), raw, ttl).Err()
}

// Invalidate bumps the scope generation
func (c *RedisVersionedCache) Invalidate(ctx context.Context, scope string) error {
	return c.client.Incr(ctx, c.prefix+"gen:"+scope).Err()
}

// InMemoryVersionedCache is the single-instance VersionedCache.
type InMemoryVersionedCache struct {
	mu     sync.Mutex
	scopes map[string]map[string]memoryValue
	now    func() time.Time
}

type memoryValue struct {
	raw       []byte
	expiresAt time.Time
}

// NewInMemoryVersionedCache creates an empty cache
func NewInMemoryVersionedCache() *InMemoryVersionedCache {
	return &InMemoryVersionedCache{scopes: make(map[string]map[string]memoryValue), now: time.Now}
}

// Get loads key into dest; false means miss
func (c *InMemoryVersionedCache) Get(_ context.Context, scope, key string, dest any) (bool, error) {
	c.mu.Lock()
	v, ok := c.scopes[scope][key]
	c.mu.Unlock()
	if !ok || c.now().After(v.expiresAt) {
		return false, nil
	}
	return true, json.Unmarshal(v.raw, dest)
}

// Set stores value
func (c *InMemoryVersionedCache) Set(_ context.Context, scope, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scopes[scope] == nil {
		c.scopes[scope] = make(map[string]memoryValue)
	}
	c.scopes[scope][key] = memoryValue{raw: raw, expiresAt: c.now().Add(ttl)}
	return nil
}

// Invalidate drops every value of scope
func (c *InMemoryVersionedCache) Invalidate(_ context.Context, scope string) error {
	c.mu.Lock()
	delete(c.scopes, scope)
	c.mu.Unlock()
	return nil
}

var (
	_ VersionedCache = (*RedisVersionedCache)(nil)
	_ VersionedCache = (*InMemoryVersionedCache)(nil)
)
