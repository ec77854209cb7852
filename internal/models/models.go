package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Item — запись каталога. Ядро только читает её; удалённые предметы нельзя выставлять на рынок.
type Item struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name    string    `gorm:"type:text;not null"`
	Price   int64     `gorm:"not null"`
	Deleted bool      `gorm:"not null;index"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Item) TableName() string {
	return "items"
}

// InventoryEntry — строка инвентаря. Стековые строки (UniqueTag == nil) уникальны по
// (owner, item, cost_basis, sellable); уникальные строки всегда имеют quantity = 1.
type InventoryEntry struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID    uuid.UUID         `gorm:"type:uuid;not null;index:ix_inventory_owner_item,priority:1"`
	ItemID     uuid.UUID         `gorm:"type:uuid;not null;index:ix_inventory_owner_item,priority:2;index"`
	Quantity   int64             `gorm:"not null"`
	UniqueTag  *uuid.UUID        `gorm:"type:uuid;uniqueIndex"`
	Attributes datatypes.JSONMap `gorm:"type:jsonb"`
	Sellable   bool              `gorm:"not null"`
	CostBasis  *int64

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (InventoryEntry) TableName() string {
	return "inventory_entries"
}

func (e *InventoryEntry) IsUnique() bool {
	return e.UniqueTag != nil
}

type Balance struct {
	UserID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Amount int64     `gorm:"not null"`

	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Balance) TableName() string {
	return "balances"
}

type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
)

// SaleListing хранит единицу товара в эскроу, пока статус active.
type SaleListing struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey"`
	SellerID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	ItemID     uuid.UUID         `gorm:"type:uuid;not null;index"`
	Price      int64             `gorm:"not null"`
	Status     ListingStatus     `gorm:"type:text;not null;index"`
	UniqueTag  *uuid.UUID        `gorm:"type:uuid"`
	Attributes datatypes.JSONMap `gorm:"type:jsonb"`
	CostBasis  *int64
	BuyerID    *uuid.UUID `gorm:"type:uuid;index"`
	SoldAt     *time.Time

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (SaleListing) TableName() string {
	return "sale_listings"
}

type BuyOrderStatus string

const (
	BuyOrderActive    BuyOrderStatus = "active"
	BuyOrderFulfilled BuyOrderStatus = "fulfilled"
	BuyOrderCancelled BuyOrderStatus = "cancelled"
)

// BuyOrder — заявка на покупку; MaxPrice уже списан с баланса покупателя, пока статус active.
type BuyOrder struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	BuyerID     uuid.UUID      `gorm:"type:uuid;not null;index"`
	ItemID      uuid.UUID      `gorm:"type:uuid;not null;index"`
	MaxPrice    int64          `gorm:"not null"`
	Status      BuyOrderStatus `gorm:"type:text;not null;index"`
	ListingID   *uuid.UUID     `gorm:"type:uuid"`
	FilledPrice *int64
	FulfilledAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:now();index"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (BuyOrder) TableName() string {
	return "buy_orders"
}

type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeCancelled TradeStatus = "cancelled"
)

type Trade struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey"`
	UserA       uuid.UUID   `gorm:"type:uuid;not null;index"`
	UserB       uuid.UUID   `gorm:"type:uuid;not null;index"`
	ApprovedA   bool        `gorm:"not null"`
	ApprovedB   bool        `gorm:"not null"`
	Status      TradeStatus `gorm:"type:text;not null;index"`
	CompletedAt *time.Time

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`

	Items []TradeItem `gorm:"foreignKey:TradeID"`
}

func (Trade) TableName() string {
	return "trades"
}

func (t *Trade) IsParticipant(userID uuid.UUID) bool {
	return t.UserA == userID || t.UserB == userID
}

// Counterparty возвращает второго участника сделки.
func (t *Trade) Counterparty(userID uuid.UUID) uuid.UUID {
	if t.UserA == userID {
		return t.UserB
	}
	return t.UserA
}

func (t *Trade) ItemsFrom(userID uuid.UUID) []TradeItem {
	out := make([]TradeItem, 0, len(t.Items))
	for _, it := range t.Items {
		if it.FromUserID == userID {
			out = append(out, it)
		}
	}
	return out
}

func (t *Trade) BothApproved() bool {
	return t.ApprovedA && t.ApprovedB
}

type TradeItem struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TradeID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	FromUserID uuid.UUID  `gorm:"type:uuid;not null"`
	ItemID     uuid.UUID  `gorm:"type:uuid;not null"`
	Quantity   int64      `gorm:"not null"`
	UniqueTag  *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}

func (TradeItem) TableName() string {
	return "trade_items"
}
