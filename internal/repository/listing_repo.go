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

type ListingRepo interface {
	Create(ctx context.Context, l *models.SaleListing) error
	Get(ctx context.Context, id uuid.UUID) (*models.SaleListing, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.SaleListing, error)
	// Update — check-and-set по статусу: false, если листинг уже не в expect.
	Update(ctx context.Context, id uuid.UUID, expect models.ListingStatus, upd ListingUpdate) (bool, error)
	// BestForBuyOrder: самая низкая цена <= maxPrice, при равенстве — самый ранний; листинги excludeSeller пропускаются.
	BestForBuyOrder(ctx context.Context, itemID uuid.UUID, maxPrice int64, excludeSeller uuid.UUID) (*models.SaleListing, error)
	ListActive(ctx context.Context, itemID uuid.UUID) ([]models.SaleListing, error)
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type listingRepo struct{ db *gorm.DB }

func NewListingRepo(db *gorm.DB) ListingRepo { return &listingRepo{db: db} }

func (r *listingRepo) Create(ctx context.Context, l *models.SaleListing) error {
	return r.db.WithContext(ctx).Select("*").Create(l).Error
}

func (r *listingRepo) Get(ctx context.Context, id uuid.UUID) (*models.SaleListing, error) {
	return r.first(r.db.WithContext(ctx), id)
}

func (r *listingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.SaleListing, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *listingRepo) first(q *gorm.DB, id uuid.UUID) (*models.SaleListing, error) {
	var l models.SaleListing
	err := q.First(&l, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *listingRepo) Update(ctx context.Context, id uuid.UUID, expect models.ListingStatus, upd ListingUpdate) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.SaleListing{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(upd.columns(time.Now()))
	return tx.RowsAffected > 0, tx.Error
}

func (r *listingRepo) BestForBuyOrder(ctx context.Context, itemID uuid.UUID, maxPrice int64, excludeSeller uuid.UUID) (*models.SaleListing, error) {
	var l models.SaleListing
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("item_id = ? AND status = ? AND price <= ? AND seller_id <> ?", itemID, models.ListingActive, maxPrice, excludeSeller).
		Order("price ASC").Order("created_at ASC").Order("id ASC").
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *listingRepo) ListActive(ctx context.Context, itemID uuid.UUID) ([]models.SaleListing, error) {
	var list []models.SaleListing
	err := r.db.WithContext(ctx).
		Where("item_id = ? AND status = ?", itemID, models.ListingActive).
		Order("price ASC").Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *listingRepo) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.ListingStatus{models.ListingSold, models.ListingCancelled}, cutoff).
		Delete(&models.SaleListing{})
	return tx.RowsAffected, tx.Error
}
