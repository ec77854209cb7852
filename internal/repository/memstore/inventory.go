package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"trading-service/internal/models"
)

type inventoryRepo struct{ s *session }

func (r *inventoryRepo) Get(ctx context.Context, id uuid.UUID) (*models.InventoryEntry, error) {
	return r.one("id", id)
}

func (r *inventoryRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.InventoryEntry, error) {
	return r.one("id", id)
}

func (r *inventoryRepo) GetByTag(ctx context.Context, tag uuid.UUID) (*models.InventoryEntry, error) {
	return r.one("tag", tag)
}

func (r *inventoryRepo) one(idx string, arg uuid.UUID) (*models.InventoryEntry, error) {
	var out *models.InventoryEntry
	err := r.s.view(func(txn *memdb.Txn) error {
		e, err := first[models.InventoryEntry](txn, tblInventory, idx, arg)
		if err != nil || e == nil {
			return err
		}
		out = cloneEntry(e)
		return nil
	})
	return out, err
}

func (r *inventoryRepo) list(idx string, arg uuid.UUID, keep func(*models.InventoryEntry) bool) ([]models.InventoryEntry, error) {
	var out []models.InventoryEntry
	err := r.s.view(func(txn *memdb.Txn) error {
		rows, err := collect[models.InventoryEntry](txn, tblInventory, idx, arg)
		if err != nil {
			return err
		}
		for _, e := range rows {
			if keep == nil || keep(e) {
				out = append(out, *cloneEntry(e))
			}
		}
		return nil
	})
	return out, err
}

func byCreated(list []models.InventoryEntry, key func(e *models.InventoryEntry) uuid.UUID) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := &list[i], &list[j]
		if ka, kb := key(a), key(b); ka != kb {
			return lessUUID(ka, kb)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return lessUUID(a.ID, b.ID)
	})
}

func (r *inventoryRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.InventoryEntry, error) {
	list, err := r.list("owner", ownerID, nil)
	byCreated(list, func(e *models.InventoryEntry) uuid.UUID { return e.ItemID })
	return list, err
}

func (r *inventoryRepo) ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.InventoryEntry, error) {
	list, err := r.list("item", itemID, nil)
	byCreated(list, func(e *models.InventoryEntry) uuid.UUID { return e.OwnerID })
	return list, err
}

func (r *inventoryRepo) ListStacks(ctx context.Context, ownerID, itemID uuid.UUID) ([]models.InventoryEntry, error) {
	list, err := r.list("owner", ownerID, func(e *models.InventoryEntry) bool {
		return e.ItemID == itemID && e.UniqueTag == nil
	})
	sort.SliceStable(list, func(i, j int) bool {
		a, b := &list[i], &list[j]
		switch {
		case a.CostBasis == nil && b.CostBasis != nil:
			return true
		case a.CostBasis != nil && b.CostBasis == nil:
			return false
		case a.CostBasis != nil && *a.CostBasis != *b.CostBasis:
			return *a.CostBasis < *b.CostBasis
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return lessUUID(a.ID, b.ID)
	})
	return list, err
}

func (r *inventoryRepo) SumStack(ctx context.Context, ownerID, itemID uuid.UUID, sellableOnly bool) (int64, error) {
	list, err := r.list("owner", ownerID, func(e *models.InventoryEntry) bool {
		return e.ItemID == itemID && e.UniqueTag == nil && (!sellableOnly || e.Sellable)
	})
	var sum int64
	for _, e := range list {
		sum += e.Quantity
	}
	return sum, err
}

func findStack(txn *memdb.Txn, e *models.InventoryEntry) (*models.InventoryEntry, error) {
	rows, err := collect[models.InventoryEntry](txn, tblInventory, "owner", e.OwnerID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.ItemID == e.ItemID && row.UniqueTag == nil && row.Sellable == e.Sellable && sameCost(row.CostBasis, e.CostBasis) {
			return row, nil
		}
	}
	return nil, nil
}

func checkEntry(e *models.InventoryEntry) error {
	if e.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity", ErrConstraint)
	}
	if e.UniqueTag != nil && e.Quantity != 1 {
		return fmt.Errorf("%w: unique entry quantity must be 1", ErrConstraint)
	}
	if e.CostBasis != nil && *e.CostBasis < 0 {
		return fmt.Errorf("%w: negative cost basis", ErrConstraint)
	}
	return nil
}

func (r *inventoryRepo) UpsertStack(ctx context.Context, e *models.InventoryEntry) error {
	now := time.Now()
	return r.s.update(func(w *writer) error {
		cur, err := findStack(w.txn, e)
		if err != nil {
			return err
		}
		if cur != nil {
			next := cloneEntry(cur)
			next.Quantity += e.Quantity
			next.UpdatedAt = now
			if err := checkEntry(next); err != nil {
				return err
			}
			if err := w.put(tblInventory, cur, next); err != nil {
				return err
			}
			*e = *cloneEntry(next)
			return nil
		}

		next := cloneEntry(e)
		if next.ID == uuid.Nil {
			next.ID = uuid.New()
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		next.Attributes = nil
		if err := checkEntry(next); err != nil {
			return err
		}
		if err := w.put(tblInventory, nil, next); err != nil {
			return err
		}
		*e = *cloneEntry(next)
		return nil
	})
}

func (r *inventoryRepo) Insert(ctx context.Context, e *models.InventoryEntry) error {
	now := time.Now()
	return r.s.update(func(w *writer) error {
		if err := checkEntry(e); err != nil {
			return err
		}
		if dup, err := first[models.InventoryEntry](w.txn, tblInventory, "id", e.ID); err != nil {
			return err
		} else if dup != nil {
			return fmt.Errorf("%w: duplicate inventory id %s", ErrConstraint, e.ID)
		}
		if e.UniqueTag != nil {
			if dup, err := first[models.InventoryEntry](w.txn, tblInventory, "tag", *e.UniqueTag); err != nil {
				return err
			} else if dup != nil {
				return fmt.Errorf("%w: duplicate unique tag %s", ErrConstraint, *e.UniqueTag)
			}
		} else if dup, err := findStack(w.txn, e); err != nil {
			return err
		} else if dup != nil {
			return fmt.Errorf("%w: duplicate stack", ErrConstraint)
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		return w.put(tblInventory, nil, cloneEntry(e))
	})
}

func (r *inventoryRepo) Decrement(ctx context.Context, id uuid.UUID, qty int64) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.InventoryEntry](w.txn, tblInventory, "id", id)
		if err != nil || cur == nil || cur.Quantity < qty {
			return err
		}
		ok = true
		if cur.Quantity == qty {
			return w.remove(tblInventory, cur)
		}
		next := cloneEntry(cur)
		next.Quantity -= qty
		next.UpdatedAt = time.Now()
		return w.put(tblInventory, cur, next)
	})
	return ok, err
}

func (r *inventoryRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.InventoryEntry](w.txn, tblInventory, "id", id)
		if err != nil || cur == nil {
			return err
		}
		ok = true
		return w.remove(tblInventory, cur)
	})
	return ok, err
}

func (r *inventoryRepo) Reassign(ctx context.Context, tag, fromID, toID uuid.UUID) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.InventoryEntry](w.txn, tblInventory, "tag", tag)
		if err != nil || cur == nil || cur.OwnerID != fromID {
			return err
		}
		ok = true
		next := cloneEntry(cur)
		next.OwnerID = toID
		next.UpdatedAt = time.Now()
		return w.put(tblInventory, cur, next)
	})
	return ok, err
}

func (r *inventoryRepo) DeleteByItem(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var n int64
	err := r.s.update(func(w *writer) error {
		var err error
		n, err = deleteInventoryByItem(w, itemID)
		return err
	})
	return n, err
}

func deleteInventoryByItem(w *writer, itemID uuid.UUID) (int64, error) {
	rows, err := collect[models.InventoryEntry](w.txn, tblInventory, "item", itemID)
	if err != nil {
		return 0, err
	}
	for _, e := range rows {
		if err := w.remove(tblInventory, e); err != nil {
			return 0, err
		}
	}
	return int64(len(rows)), nil
}
