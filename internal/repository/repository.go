package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trading-service/internal/models"
)

// TxFunc открывает единицу работы поверх набора репозиториев.
type TxFunc func(fn func(tx *Repository) error) error

type Repository struct {
	DB        *gorm.DB
	Items     ItemRepo
	Inventory InventoryRepo
	Balances  BalanceRepo
	Listings  ListingRepo
	BuyOrders BuyOrderRepo
	Trades    TradeRepo

	// Tx задаётся хранилищами без gorm (memstore). Для postgres остаётся nil.
	Tx TxFunc
}

func buildRepository(db *gorm.DB) *Repository {
	return &Repository{
		DB:        db,
		Items:     NewItemRepo(db),
		Inventory: NewInventoryRepo(db),
		Balances:  NewBalanceRepo(db),
		Listings:  NewListingRepo(db),
		BuyOrders: NewBuyOrderRepo(db),
		Trades:    NewTradeRepo(db),
	}
}

func New(db *gorm.DB) *Repository { return buildRepository(db) }

// WithTx выполняет fn в одной транзакции на весь набор репо.
// Вызов на уже транзакционном Repository создаёт SAVEPOINT: ошибка fn откатывает только вложенную часть.
func (r *Repository) WithTx(fn func(tx *Repository) error) error {
	if r.Tx != nil {
		return r.Tx(fn)
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		return fn(buildRepository(tx))
	})
}

// Типизированные обновления: каждое изменяемое поле перечислено явно.

type ListingUpdate struct {
	Status  *models.ListingStatus
	BuyerID *uuid.UUID
	SoldAt  *time.Time
}

func (u ListingUpdate) columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.BuyerID != nil {
		cols["buyer_id"] = *u.BuyerID
	}
	if u.SoldAt != nil {
		cols["sold_at"] = *u.SoldAt
	}
	return cols
}

// Apply переносит изменения на загруженную модель.
func (u ListingUpdate) Apply(l *models.SaleListing) {
	if u.Status != nil {
		l.Status = *u.Status
	}
	if u.BuyerID != nil {
		id := *u.BuyerID
		l.BuyerID = &id
	}
	if u.SoldAt != nil {
		at := *u.SoldAt
		l.SoldAt = &at
	}
}

type BuyOrderUpdate struct {
	Status      *models.BuyOrderStatus
	ListingID   *uuid.UUID
	FilledPrice *int64
	FulfilledAt *time.Time
}

func (u BuyOrderUpdate) columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.ListingID != nil {
		cols["listing_id"] = *u.ListingID
	}
	if u.FilledPrice != nil {
		cols["filled_price"] = *u.FilledPrice
	}
	if u.FulfilledAt != nil {
		cols["fulfilled_at"] = *u.FulfilledAt
	}
	return cols
}

func (u BuyOrderUpdate) Apply(o *models.BuyOrder) {
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.ListingID != nil {
		id := *u.ListingID
		o.ListingID = &id
	}
	if u.FilledPrice != nil {
		p := *u.FilledPrice
		o.FilledPrice = &p
	}
	if u.FulfilledAt != nil {
		at := *u.FulfilledAt
		o.FulfilledAt = &at
	}
}

type TradeUpdate struct {
	Status      *models.TradeStatus
	ApprovedA   *bool
	ApprovedB   *bool
	CompletedAt *time.Time
}

func (u TradeUpdate) columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.ApprovedA != nil {
		cols["approved_a"] = *u.ApprovedA
	}
	if u.ApprovedB != nil {
		cols["approved_b"] = *u.ApprovedB
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	return cols
}

func (u TradeUpdate) Apply(t *models.Trade) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ApprovedA != nil {
		t.ApprovedA = *u.ApprovedA
	}
	if u.ApprovedB != nil {
		t.ApprovedB = *u.ApprovedB
	}
	if u.CompletedAt != nil {
		at := *u.CompletedAt
		t.CompletedAt = &at
	}
}
