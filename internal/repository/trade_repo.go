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

type TradeRepo interface {
	// LockPair сериализует создание сделок для неупорядоченной пары до конца транзакции.
	LockPair(ctx context.Context, a, b uuid.UUID) error
	Create(ctx context.Context, t *models.Trade) error
	Get(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Trade, error)
	FindPending(ctx context.Context, a, b uuid.UUID) (*models.Trade, error)
	Update(ctx context.Context, id uuid.UUID, expect models.TradeStatus, upd TradeUpdate) (bool, error)

	AddItem(ctx context.Context, it *models.TradeItem) error
	UpdateItemQuantity(ctx context.Context, id uuid.UUID, qty int64) error
	DeleteItem(ctx context.Context, id uuid.UUID) error

	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type tradeRepo struct{ db *gorm.DB }

func NewTradeRepo(db *gorm.DB) TradeRepo { return &tradeRepo{db: db} }

// PairKey — порядок-независимый ключ пары пользователей.
func PairKey(a, b uuid.UUID) string {
	if a.String() > b.String() {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

func (r *tradeRepo) LockPair(ctx context.Context, a, b uuid.UUID) error {
	return r.db.WithContext(ctx).Exec(`SELECT pg_advisory_xact_lock(hashtextextended(?, 0))`, PairKey(a, b)).Error
}

func (r *tradeRepo) Create(ctx context.Context, t *models.Trade) error {
	return r.db.WithContext(ctx).Select("*").Omit(clause.Associations).Create(t).Error
}

func (r *tradeRepo) Get(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	return r.load(ctx, r.db.WithContext(ctx), "id = ?", id)
}

func (r *tradeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	return r.load(ctx, r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *tradeRepo) FindPending(ctx context.Context, a, b uuid.UUID) (*models.Trade, error) {
	return r.load(ctx, r.db.WithContext(ctx).Where("status = ?", models.TradePending),
		"((user_a = ? AND user_b = ?) OR (user_a = ? AND user_b = ?))", a, b, b, a)
}

func (r *tradeRepo) load(ctx context.Context, q *gorm.DB, cond string, args ...any) (*models.Trade, error) {
	var t models.Trade
	err := q.Where(cond, args...).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("trade_id = ?", t.ID).
		Order("created_at ASC").Order("id ASC").
		Find(&t.Items).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tradeRepo) Update(ctx context.Context, id uuid.UUID, expect models.TradeStatus, upd TradeUpdate) (bool, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, expect).
		Updates(upd.columns(time.Now()))
	return tx.RowsAffected > 0, tx.Error
}

func (r *tradeRepo) AddItem(ctx context.Context, it *models.TradeItem) error {
	return r.db.WithContext(ctx).Select("*").Create(it).Error
}

func (r *tradeRepo) UpdateItemQuantity(ctx context.Context, id uuid.UUID, qty int64) error {
	return r.db.WithContext(ctx).Model(&models.TradeItem{}).Where("id = ?", id).Update("quantity", qty).Error
}

func (r *tradeRepo) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.TradeItem{}, "id = ?", id).Error
}

// PurgeClosedBefore удаляет завершённые и отменённые сделки; строки trade_items уходят каскадом.
func (r *tradeRepo) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.TradeStatus{models.TradeCompleted, models.TradeCancelled}, cutoff).
		Delete(&models.Trade{})
	return tx.RowsAffected, tx.Error
}
