package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trading-service/internal/models"
)

type BuyOrderRepo interface {
	Create(ctx context.Context, o *models.BuyOrder) error
	Get(ctx context.Context, id uuid.UUID) (*models.BuyOrder, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.BuyOrder, error)
	Update(ctx context.Context, id uuid.UUID, expect models.BuyOrderStatus, upd BuyOrderUpdate) (bool, error)
	// BestForListing: самая высокая max_price >= price, при равенстве — самая ранняя; заявки excludeBuyer пропускаются.
	BestForListing(ctx context.Context, itemID uuid.UUID, price int64, excludeBuyer uuid.UUID) (*models.BuyOrder, error)
	ListActiveByItem(ctx context.Context, itemID uuid.UUID) ([]models.BuyOrder, error)
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type buyOrderRepo struct{ db *gorm.DB }

func NewBuyOrderRepo(db *gorm.DB) BuyOrderRepo { return &buyOrderRepo{db: db} }

func (r *buyOrderRepo) Create(ctx context.Context, o *models.BuyOrder) error {
	return r.db.WithContext(ctx).Select("*").Create(o).Error
}

func (r *buyOrderRepo) Get(ctx context.Context, id uuid.UUID) (*models.BuyOrder, error) {
	return r.first(r.db.WithContext(ctx), id)
}

func (r *buyOrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.BuyOrder, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *buyOrderRepo) first(q *gorm.DB, id uuid.UUID) (*models.BuyOrder, error) {
	var o models.BuyOrder
	err := q.First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *buyOrderRepo) Update(ctx context.Context, id uuid.UUID, expect models.BuyOrderStatus, upd BuyOrderUpdate) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.BuyOrder{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(upd.columns(time.Now()))
	return tx.RowsAffected > 0, tx.Error
}

func (r *buyOrderRepo) BestForListing(ctx context.Context, itemID uuid.UUID, price int64, excludeBuyer uuid.UUID) (*models.BuyOrder, error) {
	var o models.BuyOrder
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("item_id = ? AND status = ? AND max_price >= ? AND buyer_id <> ?", itemID, models.BuyOrderActive, price, excludeBuyer).
		Order("max_price DESC").Order("created_at ASC").Order("id ASC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *buyOrderRepo) ListActiveByItem(ctx context.Context, itemID uuid.UUID) ([]models.BuyOrder, error) {
	var list []models.BuyOrder
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND status = ?", itemID, models.BuyOrderActive).
		Order("max_price DESC").Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *buyOrderRepo) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.BuyOrderStatus{models.BuyOrderFulfilled, models.BuyOrderCancelled}, cutoff).
		Delete(&models.BuyOrder{})
	return tx.RowsAffected, tx.Error
}
