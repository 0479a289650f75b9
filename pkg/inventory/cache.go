package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openpharma/rxengine/pkg/model"
)

// SnapshotCache shares snapshots across processes. The ledger writes
// through after every mutation and reads on a local miss; the log
// remains the source of truth either way.
type SnapshotCache interface {
	Get(ctx context.Context, pharmacyID, ndc string) (model.InventoryItem, bool, error)
	Set(ctx context.Context, item model.InventoryItem) error
	Delete(ctx context.Context, pharmacyID, ndc string) error
}

// RedisCache stores snapshots as JSON under inv:<pharmacy>:<ndc>.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a connected client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func cacheKey(pharmacyID, ndc string) string {
	return fmt.Sprintf("inv:%s:%s", pharmacyID, ndc)
}

func (c *RedisCache) Get(ctx context.Context, pharmacyID, ndc string) (model.InventoryItem, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(pharmacyID, ndc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.InventoryItem{}, false, nil
	}
	if err != nil {
		return model.InventoryItem{}, false, err
	}
	var item model.InventoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return model.InventoryItem{}, false, err
	}
	return item, true, nil
}

func (c *RedisCache) Set(ctx context.Context, item model.InventoryItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(item.PharmacyID, item.NDC), raw, 0).Err()
}

func (c *RedisCache) Delete(ctx context.Context, pharmacyID, ndc string) error {
	return c.client.Del(ctx, cacheKey(pharmacyID, ndc)).Err()
}
