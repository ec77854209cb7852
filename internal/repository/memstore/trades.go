package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"trading-service/internal/models"
	"trading-service/internal/repository"
)

type tradeRepo struct{ s *session }

// LockPair не нужен: пишущая транзакция memdb и так единственная.
func (r *tradeRepo) LockPair(ctx context.Context, a, b uuid.UUID) error { return nil }

func samePair(t *models.Trade, a, b uuid.UUID) bool {
	return (t.UserA == a && t.UserB == b) || (t.UserA == b && t.UserB == a)
}

func (r *tradeRepo) Create(ctx context.Context, t *models.Trade) error {
	if t.UserA == t.UserB {
		return fmt.Errorf("%w: trade users must differ", ErrConstraint)
	}
	return r.s.update(func(w *writer) error {
		rows, err := collect[models.Trade](w.txn, tblTrades, "id")
		if err != nil {
			return err
		}
		for _, cur := range rows {
			if cur.ID == t.ID {
				return fmt.Errorf("%w: duplicate trade id %s", ErrConstraint, t.ID)
			}
			if t.Status == models.TradePending && cur.Status == models.TradePending && samePair(cur, t.UserA, t.UserB) {
				return fmt.Errorf("%w: pending trade already exists for pair", ErrConstraint)
			}
		}
		return w.put(tblTrades, nil, cloneTrade(t))
	})
}

func loadItems(txn *memdb.Txn, t *models.Trade) error {
	rows, err := collect[models.TradeItem](txn, tblTradeItems, "trade", t.ID)
	if err != nil {
		return err
	}
	t.Items = make([]models.TradeItem, 0, len(rows))
	for _, it := range rows {
		t.Items = append(t.Items, *cloneTradeItem(it))
	}
	sort.SliceStable(t.Items, func(i, j int) bool {
		a, b := &t.Items[i], &t.Items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return lessUUID(a.ID, b.ID)
	})
	return nil
}

func (r *tradeRepo) Get(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	var out *models.Trade
	err := r.s.view(func(txn *memdb.Txn) error {
		t, err := first[models.Trade](txn, tblTrades, "id", id)
		if err != nil || t == nil {
			return err
		}
		out = cloneTrade(t)
		return loadItems(txn, out)
	})
	return out, err
}

func (r *tradeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Trade, error) {
	return r.Get(ctx, id)
}

func (r *tradeRepo) FindPending(ctx context.Context, a, b uuid.UUID) (*models.Trade, error) {
	var out *models.Trade
	err := r.s.view(func(txn *memdb.Txn) error {
		rows, err := collect[models.Trade](txn, tblTrades, "id")
		if err != nil {
			return err
		}
		for _, t := range rows {
			if t.Status == models.TradePending && samePair(t, a, b) {
				out = cloneTrade(t)
				return loadItems(txn, out)
			}
		}
		return nil
	})
	return out, err
}

func (r *tradeRepo) Update(ctx context.Context, id uuid.UUID, expect models.TradeStatus, upd repository.TradeUpdate) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.Trade](w.txn, tblTrades, "id", id)
		if err != nil || cur == nil || cur.Status != expect {
			return err
		}
		ok = true
		next := cloneTrade(cur)
		upd.Apply(next)
		next.UpdatedAt = time.Now()
		return w.put(tblTrades, cur, next)
	})
	return ok, err
}

func (r *tradeRepo) AddItem(ctx context.Context, it *models.TradeItem) error {
	if it.Quantity <= 0 || (it.UniqueTag != nil && it.Quantity != 1) {
		return fmt.Errorf("%w: invalid trade item quantity", ErrConstraint)
	}
	return r.s.update(func(w *writer) error {
		if t, err := first[models.Trade](w.txn, tblTrades, "id", it.TradeID); err != nil {
			return err
		} else if t == nil {
			return fmt.Errorf("%w: trade %s does not exist", ErrConstraint, it.TradeID)
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now()
		}
		return w.put(tblTradeItems, nil, cloneTradeItem(it))
	})
}

func (r *tradeRepo) UpdateItemQuantity(ctx context.Context, id uuid.UUID, qty int64) error {
	return r.s.update(func(w *writer) error {
		cur, err := first[models.TradeItem](w.txn, tblTradeItems, "id", id)
		if err != nil || cur == nil {
			return err
		}
		next := cloneTradeItem(cur)
		next.Quantity = qty
		return w.put(tblTradeItems, cur, next)
	})
}

func (r *tradeRepo) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return r.s.update(func(w *writer) error {
		cur, err := first[models.TradeItem](w.txn, tblTradeItems, "id", id)
		if err != nil || cur == nil {
			return err
		}
		return w.remove(tblTradeItems, cur)
	})
}

func (r *tradeRepo) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.s.update(func(w *writer) error {
		rows, err := collect[models.Trade](w.txn, tblTrades, "id")
		if err != nil {
			return err
		}
		for _, t := range rows {
			if t.Status == models.TradePending || !t.UpdatedAt.Before(cutoff) {
				continue
			}
			items, err := collect[models.TradeItem](w.txn, tblTradeItems, "trade", t.ID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := w.remove(tblTradeItems, it); err != nil {
					return err
				}
			}
			if err := w.remove(tblTrades, t); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
