package service_test

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"trading-service/internal/service"
)

func TestRemoveInventory_CheapestFirst(t *testing.T) {
	f := newFixture(t)
	owner, item := uuid.New(), f.item(t)
	f.stack(t, owner, item, 3, true, int64p(10))
	f.stack(t, owner, item, 2, true, int64p(5))
	f.stack(t, owner, item, 1, true, nil)

	require.NoError(t, f.svc.RemoveInventory(f.ctx, owner, item, 4))

	entries, err := f.svc.GetInventory(f.ctx, owner)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2, entries[0].Quantity)
	require.EqualValues(t, 10, *entries[0].CostBasis)
}

func TestRemoveInventory_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	owner, item := uuid.New(), f.item(t)
	f.stack(t, owner, item, 2, true, nil)
	f.stack(t, owner, item, 2, false, nil)

	err := f.svc.RemoveInventory(f.ctx, owner, item, 5)
	require.ErrorIs(t, err, service.ErrInsufficientQuantity)
	stacked, _ := f.holding(t, owner, item)
	require.EqualValues(t, 4, stacked)

	require.ErrorIs(t, f.svc.RemoveInventory(f.ctx, owner, item, 0), service.ErrInvalidInput)
}

func TestAddInventory_UniqueCopies(t *testing.T) {
	f := newFixture(t)
	owner, item := uuid.New(), f.item(t)

	out, err := f.svc.AddInventory(f.ctx, service.AddInventoryInput{
		OwnerID: owner, ItemID: item, Quantity: 3, Attributes: map[string]any{"color": "red"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	tags := map[uuid.UUID]struct{}{}
	for _, e := range out {
		require.True(t, e.IsUnique())
		require.EqualValues(t, 1, e.Quantity)
		tags[*e.UniqueTag] = struct{}{}
	}
	require.Len(t, tags, 3)

	// уникальные копии не считаются в стековом количестве
	ok, err := f.svc.HasInventory(f.ctx, owner, item, 1, false)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.AddInventory(f.ctx, service.AddInventoryInput{OwnerID: owner, ItemID: item, Quantity: 0})
	require.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRemoveInventoryByTag(t *testing.T) {
	f := newFixture(t)
	owner, item := uuid.New(), f.item(t)
	e := f.unique(t, owner, item, map[string]any{}, true)

	require.ErrorIs(t, f.svc.RemoveInventoryByTag(f.ctx, owner, uuid.New(), *e.UniqueTag), service.ErrNotFound)
	require.ErrorIs(t, f.svc.RemoveInventoryByTag(f.ctx, uuid.New(), item, *e.UniqueTag), service.ErrNotFound)
	require.NoError(t, f.svc.RemoveInventoryByTag(f.ctx, owner, item, *e.UniqueTag))
	require.ErrorIs(t, f.svc.RemoveInventoryByTag(f.ctx, owner, item, *e.UniqueTag), service.ErrNotFound)
}

func TestTransferInventory(t *testing.T) {
	f := newFixture(t)
	from, to, item := uuid.New(), uuid.New(), f.item(t)
	e := f.unique(t, from, item, map[string]any{"float": 0.07}, true)

	require.ErrorIs(t, f.svc.TransferInventory(f.ctx, from, from, item, *e.UniqueTag), service.ErrInvalidInput)
	require.ErrorIs(t, f.svc.TransferInventory(f.ctx, to, from, item, *e.UniqueTag), service.ErrNotFound)

	require.NoError(t, f.svc.TransferInventory(f.ctx, from, to, item, *e.UniqueTag))
	_, unique := f.holding(t, from, item)
	require.Zero(t, unique)

	got, err := f.svc.GetInventory(f.ctx, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, e.ID, got[0].ID)
	require.Equal(t, 0.07, got[0].Attributes["float"])
}

func TestHasInventory_SellableOnly(t *testing.T) {
	f := newFixture(t)
	owner, item := uuid.New(), f.item(t)
	f.stack(t, owner, item, 2, true, nil)
	f.stack(t, owner, item, 3, false, nil)

	ok, err := f.svc.HasInventory(f.ctx, owner, item, 5, false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.HasInventory(f.ctx, owner, item, 3, true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdjustBalance(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	amount, err := f.svc.AdjustBalance(f.ctx, user, 50)
	require.NoError(t, err)
	require.EqualValues(t, 50, amount)

	_, err = f.svc.AdjustBalance(f.ctx, user, -51)
	require.ErrorIs(t, err, service.ErrInsufficientBalance)
	require.EqualValues(t, 50, f.balance(t, user))

	amount, err = f.svc.AdjustBalance(f.ctx, user, -50)
	require.NoError(t, err)
	require.Zero(t, amount)

	_, err = f.svc.AdjustBalance(f.ctx, user, 0)
	require.ErrorIs(t, err, service.ErrInvalidInput)

	require.Zero(t, f.balance(t, uuid.New()))
}

func TestAdjustBalance_RejectsOverflow(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	f.fund(t, user, 1<<62)

	_, err := f.svc.AdjustBalance(f.ctx, user, 1<<62)
	require.ErrorIs(t, err, service.ErrInvalidAmount)
	require.ErrorIs(t, err, service.ErrInvalidInput)
	require.NotErrorIs(t, err, service.ErrInsufficientBalance)
	require.EqualValues(t, int64(1<<62), f.balance(t, user))

	amount, err := f.svc.AdjustBalance(f.ctx, user, math.MaxInt64-(1<<62))
	require.NoError(t, err)
	require.EqualValues(t, int64(math.MaxInt64), amount)
}

func TestRemoveInventory_ConcurrentRemovalsNoLostUpdate(t *testing.T) {
	f := newFixture(t)
	owner, item := uuid.New(), f.item(t)
	f.stack(t, owner, item, 5, true, nil)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.RemoveInventory(f.ctx, owner, item, 3)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, service.ErrInsufficientQuantity):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	stacked, _ := f.holding(t, owner, item)
	require.EqualValues(t, 2, stacked)
}
