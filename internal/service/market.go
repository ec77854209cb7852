package service

import (
	"context"

	"github.com/google/uuid"

	"trading-service/internal/models"
)

type AddInventoryInput struct {
	OwnerID  uuid.UUID
	ItemID   uuid.UUID
	Quantity int64
	// Attributes != nil — каждая единица становится отдельной уникальной копией со своим тегом.
	Attributes map[string]any
	Sellable   bool
	CostBasis  *int64
}

// TradeItemRef — строка сделки: либо UniqueTag, либо Quantity стекового предмета.
type TradeItemRef struct {
	ItemID    uuid.UUID
	Quantity  int64
	UniqueTag *uuid.UUID
}

type MarketService interface {
	// inventory
	AddInventory(ctx context.Context, in AddInventoryInput) ([]models.InventoryEntry, error)
	RemoveInventory(ctx context.Context, ownerID, itemID uuid.UUID, quantity int64) error
	RemoveInventoryByTag(ctx context.Context, ownerID, itemID, tag uuid.UUID) error
	TransferInventory(ctx context.Context, fromID, toID, itemID, tag uuid.UUID) error
	HasInventory(ctx context.Context, ownerID, itemID uuid.UUID, quantity int64, sellableOnly bool) (bool, error)
	GetInventory(ctx context.Context, ownerID uuid.UUID) ([]models.InventoryEntry, error)

	// balance
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)

	// listings and buy orders
	CreateListing(ctx context.Context, sellerID, entryID uuid.UUID, price int64) (*models.SaleListing, error)
	CancelListing(ctx context.Context, listingID, sellerID uuid.UUID) (*models.SaleListing, error)
	BuyListing(ctx context.Context, listingID, buyerID uuid.UUID) (*models.SaleListing, error)
	GetListing(ctx context.Context, listingID uuid.UUID) (*models.SaleListing, error)
	ListActiveListings(ctx context.Context, itemID uuid.UUID) ([]models.SaleListing, error)
	CreateBuyOrder(ctx context.Context, buyerID, itemID uuid.UUID, maxPrice int64) (*models.BuyOrder, error)
	CancelBuyOrder(ctx context.Context, orderID, buyerID uuid.UUID) (*models.BuyOrder, error)
	GetBuyOrder(ctx context.Context, orderID uuid.UUID) (*models.BuyOrder, error)

	// trades
	StartOrGetPendingTrade(ctx context.Context, userA, userB uuid.UUID) (*models.Trade, error)
	AddTradeItem(ctx context.Context, tradeID, actorID uuid.UUID, ref TradeItemRef) (*models.Trade, error)
	RemoveTradeItem(ctx context.Context, tradeID, actorID uuid.UUID, ref TradeItemRef) (*models.Trade, error)
	ApproveTrade(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error)
	ExecuteTrade(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error)
	CancelTrade(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error)
	GetTradeByID(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error)

	// catalog maintenance
	RetireItem(ctx context.Context, itemID uuid.UUID) (int64, error)
}
