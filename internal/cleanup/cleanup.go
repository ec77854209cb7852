package cleanup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-service/internal/repository"
	"trading-service/internal/service"
)

// ItemInvalidator сбрасывает закэшированную карточку предмета.
type ItemInvalidator interface {
	Invalidate(ctx context.Context, itemID uuid.UUID) error
}

type CleanupService struct {
	repo      *repository.Repository
	market    service.MarketService
	log       *zap.Logger
	retention time.Duration
	now       func() time.Time
	cache     ItemInvalidator
}

func NewCleanupService(repo *repository.Repository, market service.MarketService, retention time.Duration, log *zap.Logger) *CleanupService {
	return &CleanupService{
		repo:      repo,
		market:    market,
		log:       log,
		retention: retention,
		now:       time.Now,
	}
}

func (c *CleanupService) SetCache(cache ItemInvalidator) {
	c.cache = cache
}

// RetireDeletedItems снимает с рынка предметы, помеченные удалёнными в каталоге, и удаляет их карточки
func (c *CleanupService) RetireDeletedItems(ctx context.Context) error {
	items, err := c.repo.Items.ListDeleted(ctx)
	if err != nil {
		c.log.Error("failed to list deleted items", zap.Error(err))
		return err
	}

	for _, it := range items {
		n, err := c.market.RetireItem(ctx, it.ID)
		if err != nil {
			c.log.Error("failed to retire item", zap.String("item_id", it.ID.String()), zap.Error(err))
			return err
		}
		if _, err := c.repo.Items.Delete(ctx, it.ID); err != nil {
			c.log.Error("failed to delete retired item", zap.String("item_id", it.ID.String()), zap.Error(err))
			return err
		}
		if c.cache != nil {
			if err := c.cache.Invalidate(ctx, it.ID); err != nil {
				c.log.Warn("failed to invalidate item cache", zap.String("item_id", it.ID.String()), zap.Error(err))
			}
		}
		c.log.Info("retired deleted item", zap.String("item_id", it.ID.String()), zap.Int64("inventory_rows", n))
	}

	return nil
}

// PurgeClosed удаляет закрытые листинги, заявки и сделки старше окна хранения
func (c *CleanupService) PurgeClosed(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)

	n, err := c.repo.Listings.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		c.log.Error("failed to purge closed listings", zap.Error(err))
		return err
	}
	if n > 0 {
		c.log.Info("purged closed listings", zap.Int64("count", n))
	}

	n, err = c.repo.BuyOrders.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		c.log.Error("failed to purge closed buy orders", zap.Error(err))
		return err
	}
	if n > 0 {
		c.log.Info("purged closed buy orders", zap.Int64("count", n))
	}

	n, err = c.repo.Trades.PurgeClosedBefore(ctx, cutoff)
	if err != nil {
		c.log.Error("failed to purge closed trades", zap.Error(err))
		return err
	}
	if n > 0 {
		c.log.Info("purged closed trades", zap.Int64("count", n))
	}

	return nil
}

// RunFullCleanup выполняет все задачи очистки
func (c *CleanupService) RunFullCleanup(ctx context.Context) error {
	c.log.Info("starting full cleanup")

	if err := c.RetireDeletedItems(ctx); err != nil {
		return err
	}

	if err := c.PurgeClosed(ctx); err != nil {
		return err
	}

	c.log.Info("full cleanup completed")
	return nil
}
