package service_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"trading-service/internal/models"
	"trading-service/internal/service"
)

func TestCreateListing_CancelRestoresStack(t *testing.T) {
	f := newFixture(t)
	seller, item := uuid.New(), f.item(t)
	e := f.stack(t, seller, item, 3, true, int64p(10))

	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 50)
	require.NoError(t, err)
	require.Equal(t, models.ListingActive, l.Status)
	require.EqualValues(t, 10, *l.CostBasis)

	stacked, _ := f.holding(t, seller, item)
	require.EqualValues(t, 2, stacked)

	l, err = f.svc.CancelListing(f.ctx, l.ID, seller)
	require.NoError(t, err)
	require.Equal(t, models.ListingCancelled, l.Status)

	entries, err := f.svc.GetInventory(f.ctx, seller)
	require.NoError(t, err)
	require.Len(t, entries, 1, "restored unit must merge back into the same stack")
	require.EqualValues(t, 3, entries[0].Quantity)
	require.EqualValues(t, 10, *entries[0].CostBasis)
	require.True(t, entries[0].Sellable)

	_, err = f.svc.CancelListing(f.ctx, l.ID, seller)
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestCreateListing_UniqueKeepsTagAndAttributes(t *testing.T) {
	f := newFixture(t)
	seller, item := uuid.New(), f.item(t)
	e := f.unique(t, seller, item, map[string]any{"wear": "factory-new"}, false)

	// уникальная копия продаётся даже без флага sellable
	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 70)
	require.NoError(t, err)
	require.Equal(t, *e.UniqueTag, *l.UniqueTag)

	_, unique := f.holding(t, seller, item)
	require.Zero(t, unique)

	_, err = f.svc.CancelListing(f.ctx, l.ID, seller)
	require.NoError(t, err)

	entries, err := f.svc.GetInventory(f.ctx, seller)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, *e.UniqueTag, *entries[0].UniqueTag)
	require.Equal(t, "factory-new", entries[0].Attributes["wear"])
	require.True(t, entries[0].Sellable)
}

func TestCreateListing_Validation(t *testing.T) {
	f := newFixture(t)
	seller, item := uuid.New(), f.item(t)
	locked := f.stack(t, seller, item, 1, false, nil)
	open := f.stack(t, seller, item, 1, true, nil)

	_, err := f.svc.CreateListing(f.ctx, seller, locked.ID, 10)
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.CreateListing(f.ctx, seller, open.ID, 0)
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.CreateListing(f.ctx, uuid.New(), open.ID, 10)
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.CreateListing(f.ctx, seller, uuid.New(), 10)
	require.ErrorIs(t, err, service.ErrNotFound)

	ok, err := f.repo.Items.MarkDeleted(f.ctx, item)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.svc.CreateListing(f.ctx, seller, open.ID, 10)
	require.ErrorIs(t, err, service.ErrNotFound)

	stacked, _ := f.holding(t, seller, item)
	require.EqualValues(t, 2, stacked, "failed listings must not touch inventory")
}

func TestBuyListing_PaysSellerMinusFee(t *testing.T) {
	f := newFixture(t)
	seller, buyer, item := uuid.New(), uuid.New(), f.item(t)
	e := f.stack(t, seller, item, 1, true, nil)
	f.fund(t, buyer, 100)

	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 40)
	require.NoError(t, err)

	sold, err := f.svc.BuyListing(f.ctx, l.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.ListingSold, sold.Status)
	require.Equal(t, buyer, *sold.BuyerID)
	require.NotNil(t, sold.SoldAt)

	require.EqualValues(t, 60, f.balance(t, buyer))
	require.EqualValues(t, 30, f.balance(t, seller))

	entries, err := f.svc.GetInventory(f.ctx, buyer)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 40, *entries[0].CostBasis)
	require.True(t, entries[0].Sellable)
}

func TestBuyListing_Failures(t *testing.T) {
	f := newFixture(t)
	seller, buyer, item := uuid.New(), uuid.New(), f.item(t)
	e := f.stack(t, seller, item, 2, true, nil)
	f.fund(t, buyer, 30)

	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 40)
	require.NoError(t, err)

	_, err = f.svc.BuyListing(f.ctx, l.ID, buyer)
	require.ErrorIs(t, err, service.ErrInsufficientBalance)
	got, err := f.svc.GetListing(f.ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.ListingActive, got.Status)
	require.EqualValues(t, 30, f.balance(t, buyer))

	f.fund(t, buyer, 100)
	_, err = f.svc.BuyListing(f.ctx, l.ID, buyer)
	require.NoError(t, err)
	_, err = f.svc.BuyListing(f.ctx, l.ID, buyer)
	require.ErrorIs(t, err, service.ErrAlreadyProcessed)

	_, err = f.svc.BuyListing(f.ctx, uuid.New(), buyer)
	require.ErrorIs(t, err, service.ErrNotFound)

	l2, err := f.svc.CreateListing(f.ctx, seller, e.ID, 40)
	require.NoError(t, err)
	_, err = f.svc.CancelListing(f.ctx, l2.ID, buyer)
	require.ErrorIs(t, err, service.ErrForbidden)
	_, err = f.svc.CancelListing(f.ctx, l2.ID, seller)
	require.NoError(t, err)
	_, err = f.svc.BuyListing(f.ctx, l2.ID, buyer)
	require.ErrorIs(t, err, service.ErrInvalidState)
}

func TestBuyListing_OwnListingReturnsUnit(t *testing.T) {
	f := newFixture(t)
	seller, item := uuid.New(), f.item(t)
	e := f.stack(t, seller, item, 1, true, int64p(7))

	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 40)
	require.NoError(t, err)
	_, err = f.svc.BuyListing(f.ctx, l.ID, seller)
	require.NoError(t, err)

	require.Zero(t, f.balance(t, seller))
	entries, err := f.svc.GetInventory(f.ctx, seller)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 7, *entries[0].CostBasis)
}

func TestBuyListing_ConcurrentBuyersOneWins(t *testing.T) {
	f := newFixture(t)
	seller, item := uuid.New(), f.item(t)
	e := f.stack(t, seller, item, 1, true, nil)
	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 40)
	require.NoError(t, err)

	buyers := make([]uuid.UUID, 10)
	for i := range buyers {
		buyers[i] = uuid.New()
		f.fund(t, buyers[i], 100)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(b uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.BuyListing(f.ctx, l.ID, b)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, service.ErrAlreadyProcessed):
				t.Errorf("unexpected error: %v", err)
			}
		}(b)
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	var total int64
	for _, b := range buyers {
		total += f.balance(t, b)
	}
	require.EqualValues(t, 10*100-40, total)
	require.EqualValues(t, 30, f.balance(t, seller))
}

func TestCreateBuyOrder_MatchesCheapestThenEarliest(t *testing.T) {
	f := newFixture(t)
	item := f.item(t)
	sellers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	prices := []int64{50, 40, 40}

	listings := make([]*models.SaleListing, len(sellers))
	for i, s := range sellers {
		e := f.stack(t, s, item, 1, true, nil)
		l, err := f.svc.CreateListing(f.ctx, s, e.ID, prices[i])
		require.NoError(t, err)
		listings[i] = l
	}

	buyer := uuid.New()
	f.fund(t, buyer, 100)
	o, err := f.svc.CreateBuyOrder(f.ctx, buyer, item, 45)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderFulfilled, o.Status)
	require.Equal(t, listings[1].ID, *o.ListingID)
	require.EqualValues(t, 40, *o.FilledPrice)

	// резерв 45, исполнено по 40, сдача 5
	require.EqualValues(t, 60, f.balance(t, buyer))
	require.EqualValues(t, 30, f.balance(t, sellers[1]))

	active, err := f.svc.ListActiveListings(f.ctx, item)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, listings[2].ID, active[0].ID)
}

func TestCreateListing_FillsWaitingBuyOrder(t *testing.T) {
	f := newFixture(t)
	seller, buyer, item := uuid.New(), uuid.New(), f.item(t)
	f.fund(t, buyer, 200)

	low, err := f.svc.CreateBuyOrder(f.ctx, buyer, item, 55)
	require.NoError(t, err)
	high, err := f.svc.CreateBuyOrder(f.ctx, buyer, item, 60)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderActive, high.Status)
	require.EqualValues(t, 200-55-60, f.balance(t, buyer))

	e := f.stack(t, seller, item, 1, true, nil)
	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 50)
	require.NoError(t, err)
	require.Equal(t, models.ListingSold, l.Status)
	require.Equal(t, buyer, *l.BuyerID)

	filled, err := f.svc.GetBuyOrder(f.ctx, high.ID)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderFulfilled, filled.Status)
	waiting, err := f.svc.GetBuyOrder(f.ctx, low.ID)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderActive, waiting.Status)

	require.EqualValues(t, 200-55-50, f.balance(t, buyer))
	require.EqualValues(t, 37, f.balance(t, seller))
	stacked, _ := f.holding(t, buyer, item)
	require.EqualValues(t, 1, stacked)
}

func TestBuyOrder_IgnoresOwnListings(t *testing.T) {
	f := newFixture(t)
	user, item := uuid.New(), f.item(t)
	e := f.stack(t, user, item, 1, true, nil)
	f.fund(t, user, 100)

	l, err := f.svc.CreateListing(f.ctx, user, e.ID, 20)
	require.NoError(t, err)
	o, err := f.svc.CreateBuyOrder(f.ctx, user, item, 30)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderActive, o.Status)

	got, err := f.svc.GetListing(f.ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.ListingActive, got.Status)
}

func TestCancelBuyOrder_RefundsReserve(t *testing.T) {
	f := newFixture(t)
	buyer, item := uuid.New(), f.item(t)
	f.fund(t, buyer, 100)

	_, err := f.svc.CreateBuyOrder(f.ctx, buyer, item, 150)
	require.ErrorIs(t, err, service.ErrInsufficientBalance)

	o, err := f.svc.CreateBuyOrder(f.ctx, buyer, item, 80)
	require.NoError(t, err)
	require.EqualValues(t, 20, f.balance(t, buyer))

	_, err = f.svc.CancelBuyOrder(f.ctx, o.ID, uuid.New())
	require.ErrorIs(t, err, service.ErrForbidden)

	o, err = f.svc.CancelBuyOrder(f.ctx, o.ID, buyer)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderCancelled, o.Status)
	require.EqualValues(t, 100, f.balance(t, buyer))

	_, err = f.svc.CancelBuyOrder(f.ctx, o.ID, buyer)
	require.ErrorIs(t, err, service.ErrInvalidState)
	require.EqualValues(t, 100, f.balance(t, buyer))
}

func TestRetireItem_ClosesMarketAndRefunds(t *testing.T) {
	f := newFixture(t)
	seller, buyer, item := uuid.New(), uuid.New(), f.item(t)
	e := f.stack(t, seller, item, 3, true, nil)
	f.fund(t, buyer, 100)

	l, err := f.svc.CreateListing(f.ctx, seller, e.ID, 90)
	require.NoError(t, err)
	o, err := f.svc.CreateBuyOrder(f.ctx, buyer, item, 50)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderActive, o.Status)

	n, err := f.svc.RetireItem(f.ctx, item)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := f.svc.GetListing(f.ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.ListingCancelled, got.Status)
	gotOrder, err := f.svc.GetBuyOrder(f.ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, models.BuyOrderCancelled, gotOrder.Status)
	require.EqualValues(t, 100, f.balance(t, buyer))

	stacked, unique := f.holding(t, seller, item)
	require.Zero(t, stacked)
	require.Zero(t, unique)
}
