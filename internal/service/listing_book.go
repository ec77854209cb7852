package service

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-service/internal/catalog"
	"trading-service/internal/models"
	"trading-service/internal/repository"
)

// ListingBook — книга листингов и заявок на покупку. Единица листинга и резерв заявки
// живут в эскроу, пока запись активна.
type ListingBook struct {
	inv     *InventoryManager
	bal     Balances
	catalog catalog.Catalog
	fees    FeePolicy
	log     *zap.Logger
	now     func() time.Time
}

func NewListingBook(inv *InventoryManager, cat catalog.Catalog, fees FeePolicy, log *zap.Logger, now func() time.Time) *ListingBook {
	if now == nil {
		now = time.Now
	}
	return &ListingBook{inv: inv, catalog: cat, fees: fees, log: log, now: now}
}

func (b *ListingBook) checkItem(ctx context.Context, itemID uuid.UUID) error {
	it, err := b.catalog.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if it == nil {
		return ErrItemNotFound
	}
	if it.Deleted {
		return ErrItemDeleted
	}
	return nil
}

func (b *ListingBook) CreateListing(ctx context.Context, tx *repository.Repository, sellerID, entryID uuid.UUID, price int64) (*models.SaleListing, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	e, err := tx.Inventory.GetForUpdate(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrEntryNotFound
	}
	if e.OwnerID != sellerID {
		return nil, ErrNotOwner
	}
	// уникальные копии продаются всегда, стековые — только если sellable
	if !e.IsUnique() && !e.Sellable {
		return nil, ErrNotSellable
	}
	if err := b.checkItem(ctx, e.ItemID); err != nil {
		return nil, err
	}

	var ok bool
	if e.IsUnique() {
		ok, err = tx.Inventory.Delete(ctx, e.ID)
	} else {
		ok, err = tx.Inventory.Decrement(ctx, e.ID, 1)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingItemError{UserID: sellerID, ItemID: e.ItemID, UniqueTag: e.UniqueTag, Need: 1}
	}

	now := b.now()
	l := &models.SaleListing{
		ID:         uuid.New(),
		SellerID:   sellerID,
		ItemID:     e.ItemID,
		Price:      price,
		Status:     models.ListingActive,
		UniqueTag:  e.UniqueTag,
		Attributes: maps.Clone(e.Attributes),
		CostBasis:  copyInt(e.CostBasis),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := tx.Listings.Create(ctx, l); err != nil {
		return nil, err
	}

	// встречная заявка: самая дорогая, при равенстве — самая ранняя; свои заявки не считаются
	matched := l
	err = tx.WithTx(func(sp *repository.Repository) error {
		o, err := sp.BuyOrders.BestForListing(ctx, l.ItemID, l.Price, sellerID)
		if err != nil || o == nil {
			return err
		}
		sold, _, err := b.fill(ctx, sp, l, o)
		if err != nil {
			return err
		}
		matched = sold
		return nil
	})
	if err != nil {
		b.log.Warn("immediate match failed, listing stays active",
			zap.String("listing_id", l.ID.String()), zap.Error(err))
		return l, nil
	}
	return matched, nil
}

// fill исполняет пару листинг + заявка по цене листинга: листинг sold, заявка fulfilled,
// сдача max_price − price покупателю, единица покупателю, выплата продавцу за вычетом комиссии.
func (b *ListingBook) fill(ctx context.Context, tx *repository.Repository, l *models.SaleListing, o *models.BuyOrder) (*models.SaleListing, *models.BuyOrder, error) {
	now := b.now()
	buyer := o.BuyerID

	sold := models.ListingSold
	lu := repository.ListingUpdate{Status: &sold, BuyerID: &buyer, SoldAt: &now}
	ok, err := tx.Listings.Update(ctx, l.ID, models.ListingActive, lu)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrAlreadySold
	}

	fulfilled := models.BuyOrderFulfilled
	price := l.Price
	listingID := l.ID
	ou := repository.BuyOrderUpdate{Status: &fulfilled, ListingID: &listingID, FilledPrice: &price, FulfilledAt: &now}
	ok, err = tx.BuyOrders.Update(ctx, o.ID, models.BuyOrderActive, ou)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrBuyOrderNotActive
	}

	if err := b.bal.credit(ctx, tx, buyer, o.MaxPrice-price); err != nil {
		return nil, nil, err
	}
	if err := b.inv.PutUnit(ctx, tx, Unit{
		OwnerID:    buyer,
		ItemID:     l.ItemID,
		UniqueTag:  l.UniqueTag,
		Attributes: l.Attributes,
		Sellable:   true,
		CostBasis:  &price,
	}); err != nil {
		return nil, nil, err
	}
	if err := b.bal.credit(ctx, tx, l.SellerID, b.fees.Payout(price)); err != nil {
		return nil, nil, err
	}

	outL, outO := *l, *o
	lu.Apply(&outL)
	ou.Apply(&outO)
	outL.UpdatedAt, outO.UpdatedAt = now, now
	return &outL, &outO, nil
}

func (b *ListingBook) BuyListing(ctx context.Context, tx *repository.Repository, listingID, buyerID uuid.UUID) (*models.SaleListing, error) {
	if buyerID == uuid.Nil {
		return nil, ErrEmptyUser
	}
	l, err := tx.Listings.GetForUpdate(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrListingNotFound
	}
	switch l.Status {
	case models.ListingSold:
		return nil, ErrAlreadySold
	case models.ListingCancelled:
		return nil, ErrListingNotActive
	}

	now := b.now()
	sold := models.ListingSold
	lu := repository.ListingUpdate{Status: &sold, BuyerID: &buyerID, SoldAt: &now}
	ok, err := tx.Listings.Update(ctx, l.ID, models.ListingActive, lu)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadySold
	}

	unit := Unit{
		OwnerID:    buyerID,
		ItemID:     l.ItemID,
		UniqueTag:  l.UniqueTag,
		Attributes: l.Attributes,
		Sellable:   true,
	}
	if buyerID == l.SellerID {
		// выкуп своего листинга: кредиты не двигаются, единица возвращается с прежней cost_basis
		unit.CostBasis = l.CostBasis
		if err := b.inv.PutUnit(ctx, tx, unit); err != nil {
			return nil, err
		}
	} else {
		if err := b.bal.debit(ctx, tx, buyerID, l.Price); err != nil {
			return nil, err
		}
		price := l.Price
		unit.CostBasis = &price
		if err := b.inv.PutUnit(ctx, tx, unit); err != nil {
			return nil, err
		}
		if err := b.bal.credit(ctx, tx, l.SellerID, b.fees.Payout(l.Price)); err != nil {
			return nil, err
		}
	}

	lu.Apply(l)
	l.UpdatedAt = now
	return l, nil
}

func (b *ListingBook) CancelListing(ctx context.Context, tx *repository.Repository, listingID, sellerID uuid.UUID) (*models.SaleListing, error) {
	l, err := tx.Listings.GetForUpdate(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrListingNotFound
	}
	if l.SellerID != sellerID {
		return nil, ErrNotOwner
	}
	if l.Status != models.ListingActive {
		return nil, ErrListingNotActive
	}

	cancelled := models.ListingCancelled
	lu := repository.ListingUpdate{Status: &cancelled}
	ok, err := tx.Listings.Update(ctx, l.ID, models.ListingActive, lu)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotActive
	}

	if err := b.inv.PutUnit(ctx, tx, Unit{
		OwnerID:    sellerID,
		ItemID:     l.ItemID,
		UniqueTag:  l.UniqueTag,
		Attributes: l.Attributes,
		Sellable:   true,
		CostBasis:  l.CostBasis,
	}); err != nil {
		return nil, err
	}

	lu.Apply(l)
	l.UpdatedAt = b.now()
	return l, nil
}

func (b *ListingBook) CreateBuyOrder(ctx context.Context, tx *repository.Repository, buyerID, itemID uuid.UUID, maxPrice int64) (*models.BuyOrder, error) {
	if buyerID == uuid.Nil {
		return nil, ErrEmptyUser
	}
	if maxPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	if err := b.checkItem(ctx, itemID); err != nil {
		return nil, err
	}
	// резерв max_price держится, пока заявка активна
	if err := b.bal.debit(ctx, tx, buyerID, maxPrice); err != nil {
		return nil, err
	}

	now := b.now()
	o := &models.BuyOrder{
		ID:        uuid.New(),
		BuyerID:   buyerID,
		ItemID:    itemID,
		MaxPrice:  maxPrice,
		Status:    models.BuyOrderActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.BuyOrders.Create(ctx, o); err != nil {
		return nil, err
	}

	// самый дешёвый листинг не дороже max_price, при равенстве — самый ранний
	matched := o
	err := tx.WithTx(func(sp *repository.Repository) error {
		l, err := sp.Listings.BestForBuyOrder(ctx, itemID, maxPrice, buyerID)
		if err != nil || l == nil {
			return err
		}
		_, filled, err := b.fill(ctx, sp, l, o)
		if err != nil {
			return err
		}
		matched = filled
		return nil
	})
	if err != nil {
		b.log.Warn("immediate match failed, buy order stays active",
			zap.String("order_id", o.ID.String()), zap.Error(err))
		return o, nil
	}
	return matched, nil
}

func (b *ListingBook) CancelBuyOrder(ctx context.Context, tx *repository.Repository, orderID, buyerID uuid.UUID) (*models.BuyOrder, error) {
	o, err := tx.BuyOrders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrBuyOrderNotFound
	}
	if o.BuyerID != buyerID {
		return nil, ErrNotOwner
	}
	if o.Status != models.BuyOrderActive {
		return nil, ErrBuyOrderNotActive
	}

	cancelled := models.BuyOrderCancelled
	ou := repository.BuyOrderUpdate{Status: &cancelled}
	ok, err := tx.BuyOrders.Update(ctx, o.ID, models.BuyOrderActive, ou)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBuyOrderNotActive
	}
	if err := b.bal.credit(ctx, tx, buyerID, o.MaxPrice); err != nil {
		return nil, err
	}

	ou.Apply(o)
	o.UpdatedAt = b.now()
	return o, nil
}

// retire закрывает всё активное по удалённому предмету: заявки отменяются с возвратом резерва,
// листинги отменяются без возврата единицы (предмет больше не существует).
func (b *ListingBook) retire(ctx context.Context, tx *repository.Repository, itemID uuid.UUID) error {
	orders, err := tx.BuyOrders.ListActiveByItem(ctx, itemID)
	if err != nil {
		return err
	}
	cancelledOrder := models.BuyOrderCancelled
	for _, o := range orders {
		ok, err := tx.BuyOrders.Update(ctx, o.ID, models.BuyOrderActive, repository.BuyOrderUpdate{Status: &cancelledOrder})
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := b.bal.credit(ctx, tx, o.BuyerID, o.MaxPrice); err != nil {
			return err
		}
	}

	listings, err := tx.Listings.ListActive(ctx, itemID)
	if err != nil {
		return err
	}
	cancelledListing := models.ListingCancelled
	for _, l := range listings {
		if _, err := tx.Listings.Update(ctx, l.ID, models.ListingActive, repository.ListingUpdate{Status: &cancelledListing}); err != nil {
			return err
		}
	}
	return nil
}
