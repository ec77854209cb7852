package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var DefaultFeeRate = decimal.RequireFromString("0.25")

// FeePolicy — комиссия площадки с продажи.
type FeePolicy struct {
	rate decimal.Decimal
}

func NewFeePolicy(rate decimal.Decimal) (FeePolicy, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeePolicy{}, fmt.Errorf("fee rate must be in [0, 1): %s: %w", rate, ErrInvalidInput)
	}
	return FeePolicy{rate: rate}, nil
}

func (f FeePolicy) Rate() decimal.Decimal { return f.rate }

// Payout — сумма продавцу: floor(price × (1 − rate)).
func (f FeePolicy) Payout(price int64) int64 {
	return decimal.NewFromInt(price).
		Mul(decimal.NewFromInt(1).Sub(f.rate)).
		Floor().
		IntPart()
}
