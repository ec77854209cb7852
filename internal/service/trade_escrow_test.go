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

func TestStartOrGetPendingTrade_OnePerPair(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()

	first, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)
	require.Equal(t, models.TradePending, first.Status)

	again, err := f.svc.StartOrGetPendingTrade(f.ctx, b, a)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	_, err = f.svc.StartOrGetPendingTrade(f.ctx, a, a)
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.CancelTrade(f.ctx, first.ID, b)
	require.NoError(t, err)
	next, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, next.ID)
}

func TestTrade_SwapStackForUnique(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	coin, knife := f.item(t), f.item(t)
	f.stack(t, a, coin, 5, true, int64p(10))
	k := f.unique(t, b, knife, map[string]any{"pattern": float64(661)}, false)

	tr, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)

	tr, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 3})
	require.NoError(t, err)
	tr, err = f.svc.AddTradeItem(f.ctx, tr.ID, b, service.TradeItemRef{ItemID: knife, UniqueTag: k.UniqueTag})
	require.NoError(t, err)
	require.Len(t, tr.Items, 2)

	tr, err = f.svc.ApproveTrade(f.ctx, tr.ID, a)
	require.NoError(t, err)
	require.Equal(t, models.TradePending, tr.Status)
	require.True(t, tr.ApprovedA)

	tr, err = f.svc.ApproveTrade(f.ctx, tr.ID, b)
	require.NoError(t, err)
	require.Equal(t, models.TradeCompleted, tr.Status)
	require.NotNil(t, tr.CompletedAt)

	stacked, _ := f.holding(t, a, coin)
	require.EqualValues(t, 2, stacked)

	got, err := f.svc.GetInventory(f.ctx, b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, coin, got[0].ItemID)
	require.EqualValues(t, 3, got[0].Quantity)
	require.Nil(t, got[0].CostBasis, "traded units carry no purchase price")
	require.True(t, got[0].Sellable)

	moved, err := f.repo.Inventory.GetByTag(f.ctx, *k.UniqueTag)
	require.NoError(t, err)
	require.Equal(t, a, moved.OwnerID)
	require.EqualValues(t, 661, moved.Attributes["pattern"])
	require.False(t, moved.Sellable)
}

func TestTrade_ExecutionRevalidatesOwnership(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	coin := f.item(t)
	f.stack(t, a, coin, 5, true, nil)

	tr, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 4})
	require.NoError(t, err)

	// предметы не заблокированы, пока сделка pending
	require.NoError(t, f.svc.RemoveInventory(f.ctx, a, coin, 2))

	_, err = f.svc.ApproveTrade(f.ctx, tr.ID, a)
	require.NoError(t, err)
	_, err = f.svc.ApproveTrade(f.ctx, tr.ID, b)
	require.ErrorIs(t, err, service.ErrInsufficientQuantity)

	var missing *service.MissingItemError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, a, missing.UserID)
	require.EqualValues(t, 4, missing.Need)
	require.EqualValues(t, 3, missing.Have)

	got, err := f.svc.GetTradeByID(f.ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TradePending, got.Status)
	require.True(t, got.BothApproved())

	stacked, _ := f.holding(t, a, coin)
	require.EqualValues(t, 3, stacked)
	stacked, _ = f.holding(t, b, coin)
	require.Zero(t, stacked)

	// после пополнения сделку можно исполнить явно
	f.stack(t, a, coin, 1, true, nil)
	done, err := f.svc.ExecuteTrade(f.ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.TradeCompleted, done.Status)
	stacked, _ = f.holding(t, b, coin)
	require.EqualValues(t, 4, stacked)
}

func TestAddTradeItem_Validation(t *testing.T) {
	f := newFixture(t)
	a, b, stranger := uuid.New(), uuid.New(), uuid.New()
	coin, knife := f.item(t), f.item(t)
	f.stack(t, a, coin, 5, false, nil)
	k := f.unique(t, a, knife, map[string]any{}, true)

	tr, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)

	// непродаваемый стек можно отдать в обмен; строки одного предмета сливаются
	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 2})
	require.NoError(t, err)
	tr, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 2})
	require.NoError(t, err)
	require.Len(t, tr.Items, 1)
	require.EqualValues(t, 4, tr.Items[0].Quantity)

	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 2})
	require.ErrorIs(t, err, service.ErrInsufficientQuantity)

	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 0})
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, b, service.TradeItemRef{ItemID: knife, UniqueTag: k.UniqueTag})
	require.ErrorIs(t, err, service.ErrInsufficientQuantity)

	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: knife, UniqueTag: k.UniqueTag})
	require.NoError(t, err)
	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: knife, UniqueTag: k.UniqueTag})
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, stranger, service.TradeItemRef{ItemID: coin, Quantity: 1})
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.AddTradeItem(f.ctx, uuid.New(), a, service.TradeItemRef{ItemID: coin, Quantity: 1})
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestRemoveTradeItem(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	coin, knife := f.item(t), f.item(t)
	f.stack(t, a, coin, 5, true, nil)
	k := f.unique(t, a, knife, map[string]any{}, true)

	tr, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)
	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 4})
	require.NoError(t, err)
	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: knife, UniqueTag: k.UniqueTag})
	require.NoError(t, err)

	tr, err = f.svc.RemoveTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, tr.Items, 2)
	for _, it := range tr.Items {
		if it.UniqueTag == nil {
			require.EqualValues(t, 3, it.Quantity)
		}
	}

	tr, err = f.svc.RemoveTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 10})
	require.NoError(t, err)
	tr, err = f.svc.RemoveTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: knife, UniqueTag: k.UniqueTag})
	require.NoError(t, err)
	require.Empty(t, tr.Items)

	_, err = f.svc.RemoveTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 1})
	require.ErrorIs(t, err, service.ErrNotFound)
	_, err = f.svc.RemoveTradeItem(f.ctx, tr.ID, b, service.TradeItemRef{ItemID: coin, Quantity: 1})
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestTrade_TerminalStates(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	coin := f.item(t)
	f.stack(t, a, coin, 1, true, nil)

	tr, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
	require.NoError(t, err)

	_, err = f.svc.ExecuteTrade(f.ctx, tr.ID)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, err = f.svc.CancelTrade(f.ctx, tr.ID, uuid.New())
	require.ErrorIs(t, err, service.ErrForbidden)

	tr, err = f.svc.CancelTrade(f.ctx, tr.ID, a)
	require.NoError(t, err)
	require.Equal(t, models.TradeCancelled, tr.Status)

	_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 1})
	require.ErrorIs(t, err, service.ErrInvalidState)
	_, err = f.svc.ApproveTrade(f.ctx, tr.ID, b)
	require.ErrorIs(t, err, service.ErrInvalidState)
	_, err = f.svc.CancelTrade(f.ctx, tr.ID, b)
	require.ErrorIs(t, err, service.ErrInvalidState)

	_, err = f.svc.GetTradeByID(f.ctx, uuid.New())
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestTrade_ExecuteRacesCancelAndAddItem(t *testing.T) {
	for range 20 {
		f := newFixture(t)
		a, b := uuid.New(), uuid.New()
		coin := f.item(t)
		f.stack(t, a, coin, 5, true, nil)

		tr, err := f.svc.StartOrGetPendingTrade(f.ctx, a, b)
		require.NoError(t, err)
		_, err = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 2})
		require.NoError(t, err)
		_, err = f.svc.ApproveTrade(f.ctx, tr.ID, a)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 3)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, errs[0] = f.svc.ApproveTrade(f.ctx, tr.ID, b)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = f.svc.CancelTrade(f.ctx, tr.ID, a)
		}()
		go func() {
			defer wg.Done()
			_, errs[2] = f.svc.AddTradeItem(f.ctx, tr.ID, a, service.TradeItemRef{ItemID: coin, Quantity: 1})
		}()
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, service.ErrInvalidState)
			}
		}

		final, err := f.svc.GetTradeByID(f.ctx, tr.ID)
		require.NoError(t, err)
		require.NotEqual(t, models.TradePending, final.Status)

		held, _ := f.holding(t, a, coin)
		got, _ := f.holding(t, b, coin)
		require.EqualValues(t, 5, held+got)

		switch final.Status {
		case models.TradeCompleted:
			require.NoError(t, errs[0])
			require.Error(t, errs[1])
			var moved int64
			for _, it := range final.Items {
				moved += it.Quantity
			}
			require.EqualValues(t, moved, got)
		case models.TradeCancelled:
			require.NoError(t, errs[1])
			require.Zero(t, got)
		}
	}
}
