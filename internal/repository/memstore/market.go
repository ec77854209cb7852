package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"trading-service/internal/models"
	"trading-service/internal/repository"
)

type balanceRepo struct{ s *session }

func (r *balanceRepo) Get(ctx context.Context, userID uuid.UUID) (int64, error) {
	var amount int64
	err := r.s.view(func(txn *memdb.Txn) error {
		b, err := first[models.Balance](txn, tblBalances, "id", userID)
		if err != nil || b == nil {
			return err
		}
		amount = b.Amount
		return nil
	})
	return amount, err
}

func (r *balanceRepo) Adjust(ctx context.Context, userID uuid.UUID, delta int64) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.Balance](w.txn, tblBalances, "id", userID)
		if err != nil {
			return err
		}
		var amount int64
		if cur != nil {
			amount = cur.Amount
		}
		// как bigint в postgres: переполнение — ошибка хранилища, а не отказ
		if delta > 0 && amount > math.MaxInt64-delta {
			return fmt.Errorf("%w: balance out of range", ErrConstraint)
		}
		if amount+delta < 0 {
			return nil
		}
		ok = true
		var before any
		if cur != nil {
			before = cur
		}
		return w.put(tblBalances, before, &models.Balance{UserID: userID, Amount: amount + delta, UpdatedAt: time.Now()})
	})
	return ok, err
}

type listingRepo struct{ s *session }

func (r *listingRepo) Create(ctx context.Context, l *models.SaleListing) error {
	if l.Price <= 0 {
		return fmt.Errorf("%w: listing price must be positive", ErrConstraint)
	}
	return r.s.update(func(w *writer) error {
		if dup, err := first[models.SaleListing](w.txn, tblListings, "id", l.ID); err != nil {
			return err
		} else if dup != nil {
			return fmt.Errorf("%w: duplicate listing id %s", ErrConstraint, l.ID)
		}
		return w.put(tblListings, nil, cloneListing(l))
	})
}

func (r *listingRepo) Get(ctx context.Context, id uuid.UUID) (*models.SaleListing, error) {
	var out *models.SaleListing
	err := r.s.view(func(txn *memdb.Txn) error {
		l, err := first[models.SaleListing](txn, tblListings, "id", id)
		if err != nil || l == nil {
			return err
		}
		out = cloneListing(l)
		return nil
	})
	return out, err
}

func (r *listingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.SaleListing, error) {
	return r.Get(ctx, id)
}

func (r *listingRepo) Update(ctx context.Context, id uuid.UUID, expect models.ListingStatus, upd repository.ListingUpdate) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.SaleListing](w.txn, tblListings, "id", id)
		if err != nil || cur == nil || cur.Status != expect {
			return err
		}
		ok = true
		next := cloneListing(cur)
		upd.Apply(next)
		next.UpdatedAt = time.Now()
		return w.put(tblListings, cur, next)
	})
	return ok, err
}

func (r *listingRepo) active(itemID uuid.UUID, keep func(*models.SaleListing) bool) ([]models.SaleListing, error) {
	var out []models.SaleListing
	err := r.s.view(func(txn *memdb.Txn) error {
		rows, err := collect[models.SaleListing](txn, tblListings, "item", itemID)
		if err != nil {
			return err
		}
		for _, l := range rows {
			if l.Status == models.ListingActive && (keep == nil || keep(l)) {
				out = append(out, *cloneListing(l))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return lessUUID(a.ID, b.ID)
	})
	return out, err
}

func (r *listingRepo) BestForBuyOrder(ctx context.Context, itemID uuid.UUID, maxPrice int64, excludeSeller uuid.UUID) (*models.SaleListing, error) {
	list, err := r.active(itemID, func(l *models.SaleListing) bool {
		return l.Price <= maxPrice && l.SellerID != excludeSeller
	})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *listingRepo) ListActive(ctx context.Context, itemID uuid.UUID) ([]models.SaleListing, error) {
	return r.active(itemID, nil)
}

func (r *listingRepo) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.s.update(func(w *writer) error {
		rows, err := collect[models.SaleListing](w.txn, tblListings, "id")
		if err != nil {
			return err
		}
		for _, l := range rows {
			if l.Status != models.ListingActive && l.UpdatedAt.Before(cutoff) {
				if err := w.remove(tblListings, l); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	return n, err
}

type buyOrderRepo struct{ s *session }

func (r *buyOrderRepo) Create(ctx context.Context, o *models.BuyOrder) error {
	if o.MaxPrice <= 0 {
		return fmt.Errorf("%w: max price must be positive", ErrConstraint)
	}
	return r.s.update(func(w *writer) error {
		if dup, err := first[models.BuyOrder](w.txn, tblBuyOrders, "id", o.ID); err != nil {
			return err
		} else if dup != nil {
			return fmt.Errorf("%w: duplicate buy order id %s", ErrConstraint, o.ID)
		}
		return w.put(tblBuyOrders, nil, cloneOrder(o))
	})
}

func (r *buyOrderRepo) Get(ctx context.Context, id uuid.UUID) (*models.BuyOrder, error) {
	var out *models.BuyOrder
	err := r.s.view(func(txn *memdb.Txn) error {
		o, err := first[models.BuyOrder](txn, tblBuyOrders, "id", id)
		if err != nil || o == nil {
			return err
		}
		out = cloneOrder(o)
		return nil
	})
	return out, err
}

func (r *buyOrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.BuyOrder, error) {
	return r.Get(ctx, id)
}

func (r *buyOrderRepo) Update(ctx context.Context, id uuid.UUID, expect models.BuyOrderStatus, upd repository.BuyOrderUpdate) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.BuyOrder](w.txn, tblBuyOrders, "id", id)
		if err != nil || cur == nil || cur.Status != expect {
			return err
		}
		ok = true
		next := cloneOrder(cur)
		upd.Apply(next)
		next.UpdatedAt = time.Now()
		return w.put(tblBuyOrders, cur, next)
	})
	return ok, err
}

func (r *buyOrderRepo) active(itemID uuid.UUID, keep func(*models.BuyOrder) bool) ([]models.BuyOrder, error) {
	var out []models.BuyOrder
	err := r.s.view(func(txn *memdb.Txn) error {
		rows, err := collect[models.BuyOrder](txn, tblBuyOrders, "item", itemID)
		if err != nil {
			return err
		}
		for _, o := range rows {
			if o.Status == models.BuyOrderActive && (keep == nil || keep(o)) {
				out = append(out, *cloneOrder(o))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		a, b := &out[i], &out[j]
		if a.MaxPrice != b.MaxPrice {
			return a.MaxPrice > b.MaxPrice
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return lessUUID(a.ID, b.ID)
	})
	return out, err
}

func (r *buyOrderRepo) BestForListing(ctx context.Context, itemID uuid.UUID, price int64, excludeBuyer uuid.UUID) (*models.BuyOrder, error) {
	list, err := r.active(itemID, func(o *models.BuyOrder) bool {
		return o.MaxPrice >= price && o.BuyerID != excludeBuyer
	})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r *buyOrderRepo) ListActiveByItem(ctx context.Context, itemID uuid.UUID) ([]models.BuyOrder, error) {
	return r.active(itemID, nil)
}

func (r *buyOrderRepo) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.s.update(func(w *writer) error {
		rows, err := collect[models.BuyOrder](w.txn, tblBuyOrders, "id")
		if err != nil {
			return err
		}
		for _, o := range rows {
			if o.Status != models.BuyOrderActive && o.UpdatedAt.Before(cutoff) {
				if err := w.remove(tblBuyOrders, o); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	return n, err
}
