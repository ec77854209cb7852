package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store — подмножество cache.RedisClient, нужное кэшу каталога.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedCatalog — read-through кэш каталога в redis. Ошибки redis не ломают чтение.
type CachedCatalog struct {
	next  Catalog
	store Store
	ttl   time.Duration
	log   *zap.Logger
}

func NewCachedCatalog(next Catalog, store Store, ttl time.Duration, log *zap.Logger) *CachedCatalog {
	return &CachedCatalog{next: next, store: store, ttl: ttl, log: log}
}

func itemKey(id uuid.UUID) string {
	return fmt.Sprintf("catalog:item:%s", id)
}

func (c *CachedCatalog) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	key := itemKey(itemID)

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var it Item
		if jerr := json.Unmarshal([]byte(raw), &it); jerr == nil {
			return &it, nil
		}
		c.log.Warn("corrupted catalog cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
	}

	it, err := c.next.GetItem(ctx, itemID)
	if err != nil || it == nil {
		return it, err
	}

	if data, jerr := json.Marshal(it); jerr == nil {
		if serr := c.store.Set(ctx, key, data, c.ttl); serr != nil {
			c.log.Warn("catalog cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return it, nil
}

// Invalidate сбрасывает кэш предмета, например после его удаления из каталога.
func (c *CachedCatalog) Invalidate(ctx context.Context, itemID uuid.UUID) error {
	return c.store.Del(ctx, itemKey(itemID))
}
