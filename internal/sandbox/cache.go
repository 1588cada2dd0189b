package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"iap-reconciler/internal/models"
	"iap-reconciler/pkg/logging"
)

const productCachePrefix = "iap:sandbox:product:"

type cacheEntry struct {
	product   models.SandboxProduct
	expiresAt time.Time
}

// ProductCache caches catalog lookups in Redis, or in process memory when
// no Redis client is given.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	memory map[string]cacheEntry
}

func NewProductCache(client *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		memory: make(map[string]cacheEntry),
	}
}

func productCacheKey(platform, productID string) string {
	return productCachePrefix + platform + ":" + productID
}

func (c *ProductCache) Get(ctx context.Context, platform, productID string) (models.SandboxProduct, bool) {
	if c.ttl <= 0 {
		return models.SandboxProduct{}, false
	}
	key := productCacheKey(platform, productID)

	if c.client == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		entry, ok := c.memory[key]
		if !ok || !c.now().Before(entry.expiresAt) {
			delete(c.memory, key)
			return models.SandboxProduct{}, false
		}
		return entry.product, true
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warnf("Product cache read failed - key: %s, error: %v", key, err)
		}
		return models.SandboxProduct{}, false
	}
	var product models.SandboxProduct
	if err := json.Unmarshal(data, &product); err != nil {
		logging.Warnf("Product cache entry corrupt - key: %s, error: %v", key, err)
		return models.SandboxProduct{}, false
	}
	return product, true
}

func (c *ProductCache) Set(ctx context.Context, product models.SandboxProduct) {
	if c.ttl <= 0 {
		return
	}
	key := productCacheKey(product.Platform, product.ProductID)

	if c.client == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.memory[key] = cacheEntry{product: product, expiresAt: c.now().Add(c.ttl)}
		return
	}

	data, err := json.Marshal(product)
	if err != nil {
		logging.Warnf("Product cache encode failed - key: %s, error: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logging.Warnf("Product cache write failed - key: %s, error: %v", key, err)
	}
}

func (c *ProductCache) Invalidate(ctx context.Context, platform, productID string) {
	key := productCacheKey(platform, productID)

	if c.client == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.memory, key)
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logging.Warnf("Product cache invalidate failed - key: %s, error: %v", key, err)
	}
}
