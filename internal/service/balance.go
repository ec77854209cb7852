package service

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"trading-service/internal/repository"
)

// Balances — кредиты пользователей; баланс никогда не уходит в минус.
type Balances struct{}

func (Balances) Adjust(ctx context.Context, tx *repository.Repository, userID uuid.UUID, delta int64) error {
	if userID == uuid.Nil {
		return ErrEmptyUser
	}
	if delta == 0 {
		return ErrInvalidAmount
	}
	if delta > 0 {
		cur, err := tx.Balances.Get(ctx, userID)
		if err != nil {
			return err
		}
		if cur > math.MaxInt64-delta {
			return fmt.Errorf("user %s, credit %d overflows balance %d: %w", userID, delta, cur, ErrInvalidAmount)
		}
	}
	ok, err := tx.Balances.Adjust(ctx, userID, delta)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s, debit %d: %w", userID, -delta, ErrInsufficientBalance)
	}
	return nil
}

// credit пропускает нулевые суммы (сдача, выплата с нулевой ценой).
func (b Balances) credit(ctx context.Context, tx *repository.Repository, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return b.Adjust(ctx, tx, userID, amount)
}

func (b Balances) debit(ctx context.Context, tx *repository.Repository, userID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return b.Adjust(ctx, tx, userID, -amount)
}
