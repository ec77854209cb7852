package service

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"trading-service/internal/models"
	"trading-service/internal/repository"
)

// Portion — часть списания из одного стека.
type Portion struct {
	Quantity  int64
	CostBasis *int64
	Sellable  bool
}

// Unit — одна единица, возвращаемая в инвентарь из эскроу (листинг, сделка) с сохранением тега и атрибутов.
type Unit struct {
	OwnerID    uuid.UUID
	ItemID     uuid.UUID
	UniqueTag  *uuid.UUID
	Attributes datatypes.JSONMap
	Sellable   bool
	CostBasis  *int64
}

// InventoryManager работает только внутри транзакции: все методы принимают tx.
type InventoryManager struct {
	now func() time.Time
}

func NewInventoryManager(now func() time.Time) *InventoryManager {
	if now == nil {
		now = time.Now
	}
	return &InventoryManager{now: now}
}

func (m *InventoryManager) Add(ctx context.Context, tx *repository.Repository, in AddInventoryInput) ([]models.InventoryEntry, error) {
	if in.OwnerID == uuid.Nil {
		return nil, ErrEmptyUser
	}
	if in.ItemID == uuid.Nil {
		return nil, ErrItemNotFound
	}
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if in.CostBasis != nil && *in.CostBasis < 0 {
		return nil, ErrInvalidPrice
	}

	now := m.now()
	if in.Attributes != nil {
		out := make([]models.InventoryEntry, 0, in.Quantity)
		for i := int64(0); i < in.Quantity; i++ {
			tag := uuid.New()
			e := &models.InventoryEntry{
				ID:         uuid.New(),
				OwnerID:    in.OwnerID,
				ItemID:     in.ItemID,
				Quantity:   1,
				UniqueTag:  &tag,
				Attributes: datatypes.JSONMap(maps.Clone(in.Attributes)),
				Sellable:   in.Sellable,
				CostBasis:  copyInt(in.CostBasis),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Inventory.Insert(ctx, e); err != nil {
				return nil, err
			}
			out = append(out, *e)
		}
		return out, nil
	}

	e, err := m.putStack(ctx, tx, in.OwnerID, in.ItemID, in.Quantity, in.Sellable, in.CostBasis)
	if err != nil {
		return nil, err
	}
	return []models.InventoryEntry{*e}, nil
}

func (m *InventoryManager) putStack(ctx context.Context, tx *repository.Repository, owner, item uuid.UUID, qty int64, sellable bool, cost *int64) (*models.InventoryEntry, error) {
	now := m.now()
	e := &models.InventoryEntry{
		ID:        uuid.New(),
		OwnerID:   owner,
		ItemID:    item,
		Quantity:  qty,
		Sellable:  sellable,
		CostBasis: copyInt(cost),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Inventory.UpsertStack(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// PutUnit кладёт одну единицу владельцу: уникальная копия возвращается со своим тегом, стековая сливается со стеком.
func (m *InventoryManager) PutUnit(ctx context.Context, tx *repository.Repository, u Unit) error {
	if u.UniqueTag == nil {
		_, err := m.putStack(ctx, tx, u.OwnerID, u.ItemID, 1, u.Sellable, u.CostBasis)
		return err
	}
	now := m.now()
	tag := *u.UniqueTag
	return tx.Inventory.Insert(ctx, &models.InventoryEntry{
		ID:         uuid.New(),
		OwnerID:    u.OwnerID,
		ItemID:     u.ItemID,
		Quantity:   1,
		UniqueTag:  &tag,
		Attributes: maps.Clone(u.Attributes),
		Sellable:   u.Sellable,
		CostBasis:  copyInt(u.CostBasis),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Remove списывает qty стековых единиц: сначала самые дешёвые по cost_basis, без неё — первыми.
// Либо списывается всё, либо ничего.
func (m *InventoryManager) Remove(ctx context.Context, tx *repository.Repository, owner, item uuid.UUID, qty int64) ([]Portion, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	stacks, err := tx.Inventory.ListStacks(ctx, owner, item)
	if err != nil {
		return nil, err
	}

	var have int64
	for _, s := range stacks {
		have += s.Quantity
	}
	if have < qty {
		return nil, &MissingItemError{UserID: owner, ItemID: item, Need: qty, Have: have}
	}

	portions := make([]Portion, 0, len(stacks))
	remaining := qty
	for _, s := range stacks {
		if remaining == 0 {
			break
		}
		take := min(s.Quantity, remaining)
		ok, err := tx.Inventory.Decrement(ctx, s.ID, take)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &MissingItemError{UserID: owner, ItemID: item, Need: qty, Have: qty - remaining}
		}
		portions = append(portions, Portion{Quantity: take, CostBasis: copyInt(s.CostBasis), Sellable: s.Sellable})
		remaining -= take
	}
	return portions, nil
}

func (m *InventoryManager) RemoveByTag(ctx context.Context, tx *repository.Repository, owner, item, tag uuid.UUID) (*models.InventoryEntry, error) {
	e, err := m.ownedByTag(ctx, tx, owner, item, tag)
	if err != nil {
		return nil, err
	}
	ok, err := tx.Inventory.Delete(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

func (m *InventoryManager) ownedByTag(ctx context.Context, tx *repository.Repository, owner, item, tag uuid.UUID) (*models.InventoryEntry, error) {
	e, err := tx.Inventory.GetByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	if e == nil || e.OwnerID != owner || e.ItemID != item {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// HasQuantity учитывает только стековые строки; sellableOnly отбрасывает непродаваемые.
func (m *InventoryManager) HasQuantity(ctx context.Context, tx *repository.Repository, owner, item uuid.UUID, qty int64, sellableOnly bool) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	have, err := tx.Inventory.SumStack(ctx, owner, item, sellableOnly)
	if err != nil {
		return false, err
	}
	return have >= qty, nil
}

// Transfer переносит уникальную копию целиком: тег, атрибуты и cost_basis сохраняются.
func (m *InventoryManager) Transfer(ctx context.Context, tx *repository.Repository, from, to, item, tag uuid.UUID) error {
	if to == uuid.Nil {
		return ErrEmptyUser
	}
	if from == to {
		return ErrSelfTransfer
	}
	if _, err := m.ownedByTag(ctx, tx, from, item, tag); err != nil {
		return err
	}
	ok, err := tx.Inventory.Reassign(ctx, tag, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEntryNotFound
	}
	return nil
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
