package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"trading-service/internal/models"
)

type BalanceRepo interface {
	// Get возвращает 0 для пользователя без строки баланса.
	Get(ctx context.Context, userID uuid.UUID) (int64, error)
	// Adjust: кредит делает upsert, дебет проходит только если amount + delta >= 0.
	Adjust(ctx context.Context, userID uuid.UUID, delta int64) (bool, error)
}

type balanceRepo struct{ db *gorm.DB }

func NewBalanceRepo(db *gorm.DB) BalanceRepo { return &balanceRepo{db: db} }

func (r *balanceRepo) Get(ctx context.Context, userID uuid.UUID) (int64, error) {
	var b models.Balance
	err := r.db.WithContext(ctx).First(&b, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return b.Amount, err
}

func (r *balanceRepo) Adjust(ctx context.Context, userID uuid.UUID, delta int64) (bool, error) {
	if delta >= 0 {
		tx := r.db.WithContext(ctx).Exec(`
INSERT INTO balances (user_id, amount, updated_at)
VALUES (@uid, @delta, now())
ON CONFLICT (user_id)
DO UPDATE SET amount = balances.amount + EXCLUDED.amount,
              updated_at = now()
`, map[string]any{
			"uid":   userID,
			"delta": delta,
		})
		return tx.Error == nil, tx.Error
	}

	tx := r.db.WithContext(ctx).Exec(`
UPDATE balances
SET amount = amount + @delta,
    updated_at = now()
WHERE user_id = @uid
  AND amount + @delta >= 0
`, map[string]any{
		"uid":   userID,
		"delta": delta,
	})
	return tx.RowsAffected > 0, tx.Error
}
