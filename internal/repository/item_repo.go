package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trading-service/internal/models"
)

type ItemRepo interface {
	Create(ctx context.Context, it *models.Item) error
	Get(ctx context.Context, id uuid.UUID) (*models.Item, error)
	ListDeleted(ctx context.Context) ([]models.Item, error)
	MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type itemRepo struct{ db *gorm.DB }

func NewItemRepo(db *gorm.DB) ItemRepo { return &itemRepo{db: db} }

func (r *itemRepo) Create(ctx context.Context, it *models.Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Select("*").Create(it).Error
}

func (r *itemRepo) Get(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var it models.Item
	err := r.db.WithContext(ctx).First(&it, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *itemRepo) ListDeleted(ctx context.Context) ([]models.Item, error) {
	var list []models.Item
	err := r.db.WithContext(ctx).Where("deleted = ?", true).Order("updated_at ASC").Find(&list).Error
	return list, err
}

func (r *itemRepo) MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Item{}).Where("id = ? AND deleted = ?", id, false).Update("deleted", true)
	return tx.RowsAffected > 0, tx.Error
}

func (r *itemRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).Delete(&models.Item{}, "id = ?", id)
	return tx.RowsAffected > 0, tx.Error
}
