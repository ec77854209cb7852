// Package catalog — чтение описаний предметов. Ядро только проверяет, что предмет существует и не удалён.
package catalog

import (
	"context"

	"github.com/google/uuid"

	"trading-service/internal/repository"
)

type Item struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Price   int64     `json:"price"`
	Deleted bool      `json:"deleted"`
}

// Catalog возвращает nil, nil для неизвестного предмета.
type Catalog interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error)
}

type repoCatalog struct {
	items repository.ItemRepo
}

func NewRepoCatalog(items repository.ItemRepo) Catalog {
	return &repoCatalog{items: items}
}

func (c *repoCatalog) GetItem(ctx context.Context, itemID uuid.UUID) (*Item, error) {
	it, err := c.items.Get(ctx, itemID)
	if err != nil || it == nil {
		return nil, err
	}
	return &Item{
		ID:      it.ID,
		OwnerID: it.OwnerID,
		Price:   it.Price,
		Deleted: it.Deleted,
	}, nil
}
