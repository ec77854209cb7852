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

type itemRepo struct{ s *session }

func (r *itemRepo) Create(ctx context.Context, it *models.Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	now := time.Now()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now
	return r.s.update(func(w *writer) error {
		if dup, err := first[models.Item](w.txn, tblItems, "id", it.ID); err != nil {
			return err
		} else if dup != nil {
			return fmt.Errorf("%w: duplicate item id %s", ErrConstraint, it.ID)
		}
		c := *it
		return w.put(tblItems, nil, &c)
	})
}

func (r *itemRepo) Get(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var out *models.Item
	err := r.s.view(func(txn *memdb.Txn) error {
		it, err := first[models.Item](txn, tblItems, "id", id)
		if err != nil || it == nil {
			return err
		}
		c := *it
		out = &c
		return nil
	})
	return out, err
}

func (r *itemRepo) ListDeleted(ctx context.Context) ([]models.Item, error) {
	var out []models.Item
	err := r.s.view(func(txn *memdb.Txn) error {
		rows, err := collect[models.Item](txn, tblItems, "id")
		if err != nil {
			return err
		}
		for _, it := range rows {
			if it.Deleted {
				out = append(out, *it)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, err
}

func (r *itemRepo) MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.Item](w.txn, tblItems, "id", id)
		if err != nil || cur == nil || cur.Deleted {
			return err
		}
		ok = true
		next := *cur
		next.Deleted = true
		next.UpdatedAt = time.Now()
		return w.put(tblItems, cur, &next)
	})
	return ok, err
}

// Delete удаляет предмет вместе со всем инвентарём, как ON DELETE CASCADE в postgres.
func (r *itemRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.s.update(func(w *writer) error {
		cur, err := first[models.Item](w.txn, tblItems, "id", id)
		if err != nil || cur == nil {
			return err
		}
		ok = true
		if _, err := deleteInventoryByItem(w, id); err != nil {
			return err
		}
		return w.remove(tblItems, cur)
	})
	return ok, err
}
