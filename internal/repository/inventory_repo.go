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

type InventoryRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*models.InventoryEntry, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.InventoryEntry, error)
	GetByTag(ctx context.Context, tag uuid.UUID) (*models.InventoryEntry, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.InventoryEntry, error)
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.InventoryEntry, error)

	// ListStacks блокирует стековые строки владельца в порядке списания:
	// cost_basis по возрастанию (NULL первым), затем created_at, затем id.
	ListStacks(ctx context.Context, ownerID, itemID uuid.UUID) ([]models.InventoryEntry, error)
	SumStack(ctx context.Context, ownerID, itemID uuid.UUID, sellableOnly bool) (int64, error)

	// UpsertStack атомарно прибавляет e.Quantity к стеку (owner, item, cost_basis, sellable).
	UpsertStack(ctx context.Context, e *models.InventoryEntry) error
	Insert(ctx context.Context, e *models.InventoryEntry) error
	// Decrement: quantity -= qty, если хватает; строка с нулём удаляется.
	Decrement(ctx context.Context, id uuid.UUID, qty int64) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// Reassign меняет владельца уникальной строки одним UPDATE.
	Reassign(ctx context.Context, tag, fromID, toID uuid.UUID) (bool, error)
	DeleteByItem(ctx context.Context, itemID uuid.UUID) (int64, error)
}

type inventoryRepo struct{ db *gorm.DB }

func NewInventoryRepo(db *gorm.DB) InventoryRepo { return &inventoryRepo{db: db} }

func (r *inventoryRepo) Get(ctx context.Context, id uuid.UUID) (*models.InventoryEntry, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *inventoryRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.InventoryEntry, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

func (r *inventoryRepo) GetByTag(ctx context.Context, tag uuid.UUID) (*models.InventoryEntry, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "unique_tag = ?", tag)
}

func (r *inventoryRepo) first(q *gorm.DB, cond string, arg any) (*models.InventoryEntry, error) {
	var e models.InventoryEntry
	err := q.First(&e, cond, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *inventoryRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.InventoryEntry, error) {
	var list []models.InventoryEntry
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("item_id ASC").Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *inventoryRepo) ListByItem(ctx context.Context, itemID uuid.UUID) ([]models.InventoryEntry, error) {
	var list []models.InventoryEntry
	err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("owner_id ASC").Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *inventoryRepo) ListStacks(ctx context.Context, ownerID, itemID uuid.UUID) ([]models.InventoryEntry, error) {
	var list []models.InventoryEntry
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_id = ? AND item_id = ? AND unique_tag IS NULL", ownerID, itemID).
		Order("cost_basis ASC NULLS FIRST").Order("created_at ASC").Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *inventoryRepo) SumStack(ctx context.Context, ownerID, itemID uuid.UUID, sellableOnly bool) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.InventoryEntry{}).
		Where("owner_id = ? AND item_id = ? AND unique_tag IS NULL", ownerID, itemID)
	if sellableOnly {
		q = q.Where("sellable = ?", true)
	}
	var sum int64
	err := q.Select("COALESCE(SUM(quantity), 0)").Scan(&sum).Error
	return sum, err
}

func (r *inventoryRepo) UpsertStack(ctx context.Context, e *models.InventoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	// COALESCE(cost_basis, -1) совпадает с выражением частичного уникального индекса ux_inventory_stack
	return r.db.WithContext(ctx).Raw(`
INSERT INTO inventory_entries (id, owner_id, item_id, quantity, unique_tag, attributes, sellable, cost_basis, created_at, updated_at)
VALUES (@id, @owner, @item, @q, NULL, NULL, @sellable, @cost, @now, @now)
ON CONFLICT (owner_id, item_id, (COALESCE(cost_basis, -1)), sellable) WHERE unique_tag IS NULL
DO UPDATE SET quantity = inventory_entries.quantity + EXCLUDED.quantity,
              updated_at = EXCLUDED.updated_at
RETURNING *
`, map[string]any{
		"id":       e.ID,
		"owner":    e.OwnerID,
		"item":     e.ItemID,
		"q":        e.Quantity,
		"sellable": e.Sellable,
		"cost":     e.CostBasis,
		"now":      e.CreatedAt,
	}).Scan(e).Error
}

func (r *inventoryRepo) Insert(ctx context.Context, e *models.InventoryEntry) error {
	return r.db.WithContext(ctx).Select("*").Create(e).Error
}

func (r *inventoryRepo) Decrement(ctx context.Context, id uuid.UUID, qty int64) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE inventory_entries
SET quantity = quantity - @q,
    updated_at = now()
WHERE id = @id
  AND quantity >= @q
`, map[string]any{
		"id": id,
		"q":  qty,
	})
	if tx.Error != nil || tx.RowsAffected == 0 {
		return false, tx.Error
	}
	err := r.db.WithContext(ctx).Exec(`DELETE FROM inventory_entries WHERE id = ? AND quantity = 0`, id).Error
	return err == nil, err
}

func (r *inventoryRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).Delete(&models.InventoryEntry{}, "id = ?", id)
	return tx.RowsAffected > 0, tx.Error
}

func (r *inventoryRepo) Reassign(ctx context.Context, tag, fromID, toID uuid.UUID) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(`
UPDATE inventory_entries
SET owner_id = @to,
    updated_at = now()
WHERE unique_tag = @tag
  AND owner_id = @from
`, map[string]any{
		"tag":  tag,
		"from": fromID,
		"to":   toID,
	})
	return tx.RowsAffected > 0, tx.Error
}

func (r *inventoryRepo) DeleteByItem(ctx context.Context, itemID uuid.UUID) (int64, error) {
	tx := r.db.WithContext(ctx).Delete(&models.InventoryEntry{}, "item_id = ?", itemID)
	return tx.RowsAffected, tx.Error
}
