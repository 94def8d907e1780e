package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is a byte-oriented read cache. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const (
	InventoryAllKey = "inventory:all"
	ProductAllKey   = "products:all"
)

func InventoryKey(productId string) string {
	return "inventory:" + productId
}

func ProductKey(sku string) string {
	return "product:" + sku
}

// GetObject decodes a cached JSON value into dest; found is false on a miss.
func GetObject(ctx context.Context, c Cache, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		// a stale shape is treated as a miss and dropped
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func SetObject(ctx context.Context, c Cache, key string, obj any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return c.Set(ctx, key, b, ttl)
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopCache) Delete(context.Context, ...string) error { return nil }
