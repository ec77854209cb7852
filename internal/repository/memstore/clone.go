package memstore

import (
	"maps"

	"github.com/google/uuid"

	"trading-service/internal/models"
)

func ptr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneEntry(e *models.InventoryEntry) *models.InventoryEntry {
	c := *e
	c.UniqueTag = ptr(e.UniqueTag)
	c.CostBasis = ptr(e.CostBasis)
	if e.Attributes != nil {
		c.Attributes = maps.Clone(e.Attributes)
	}
	return &c
}

func cloneListing(l *models.SaleListing) *models.SaleListing {
	c := *l
	c.UniqueTag = ptr(l.UniqueTag)
	c.CostBasis = ptr(l.CostBasis)
	c.BuyerID = ptr(l.BuyerID)
	c.SoldAt = ptr(l.SoldAt)
	if l.Attributes != nil {
		c.Attributes = maps.Clone(l.Attributes)
	}
	return &c
}

func cloneOrder(o *models.BuyOrder) *models.BuyOrder {
	c := *o
	c.ListingID = ptr(o.ListingID)
	c.FilledPrice = ptr(o.FilledPrice)
	c.FulfilledAt = ptr(o.FulfilledAt)
	return &c
}

// cloneTrade копирует строку сделки без позиций: позиции хранятся в trade_items.
func cloneTrade(t *models.Trade) *models.Trade {
	c := *t
	c.CompletedAt = ptr(t.CompletedAt)
	c.Items = nil
	return &c
}

func cloneTradeItem(it *models.TradeItem) *models.TradeItem {
	c := *it
	c.UniqueTag = ptr(it.UniqueTag)
	return &c
}

func sameCost(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func lessUUID(a, b uuid.UUID) bool {
	return a.String() < b.String()
}
