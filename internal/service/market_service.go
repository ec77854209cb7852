package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-service/internal/catalog"
	"trading-service/internal/models"
	"trading-service/internal/repository"
)

type Option func(*marketService)

// WithFeeRate задаёт комиссию площадки; по умолчанию DefaultFeeRate.
func WithFeeRate(rate decimal.Decimal) Option {
	return func(s *marketService) { s.feeRate = rate }
}

func WithClock(now func() time.Time) Option {
	return func(s *marketService) { s.now = now }
}

// marketService — фасад: каждая операция выполняется в одной транзакции.
type marketService struct {
	repo    *repository.Repository
	log     *zap.Logger
	now     func() time.Time
	feeRate decimal.Decimal

	inv    *InventoryManager
	bal    Balances
	book   *ListingBook
	escrow *TradeEscrow
}

func NewMarketService(repo *repository.Repository, cat catalog.Catalog, log *zap.Logger, opts ...Option) (*marketService, error) {
	s := &marketService{
		repo:    repo,
		log:     log,
		now:     time.Now,
		feeRate: DefaultFeeRate,
	}
	for _, opt := range opts {
		opt(s)
	}

	fees, err := NewFeePolicy(s.feeRate)
	if err != nil {
		return nil, err
	}

	s.inv = NewInventoryManager(s.now)
	s.book = NewListingBook(s.inv, cat, fees, log, s.now)
	s.escrow = NewTradeEscrow(s.inv, log, s.now)
	return s, nil
}

func (s *marketService) AddInventory(ctx context.Context, in AddInventoryInput) ([]models.InventoryEntry, error) {
	var out []models.InventoryEntry
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		out, err = s.inv.Add(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *marketService) RemoveInventory(ctx context.Context, ownerID, itemID uuid.UUID, quantity int64) error {
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		_, err := s.inv.Remove(ctx, tx, ownerID, itemID, quantity)
		return err
	})
	return classify(err)
}

func (s *marketService) RemoveInventoryByTag(ctx context.Context, ownerID, itemID, tag uuid.UUID) error {
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		_, err := s.inv.RemoveByTag(ctx, tx, ownerID, itemID, tag)
		return err
	})
	return classify(err)
}

func (s *marketService) TransferInventory(ctx context.Context, fromID, toID, itemID, tag uuid.UUID) error {
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		return s.inv.Transfer(ctx, tx, fromID, toID, itemID, tag)
	})
	return classify(err)
}

func (s *marketService) HasInventory(ctx context.Context, ownerID, itemID uuid.UUID, quantity int64, sellableOnly bool) (bool, error) {
	ok, err := s.inv.HasQuantity(ctx, s.repo, ownerID, itemID, quantity, sellableOnly)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (s *marketService) GetInventory(ctx context.Context, ownerID uuid.UUID) ([]models.InventoryEntry, error) {
	out, err := s.repo.Inventory.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// AdjustBalance возвращает баланс после изменения.
func (s *marketService) AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	var amount int64
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		if err := s.bal.Adjust(ctx, tx, userID, delta); err != nil {
			return err
		}
		var err error
		amount, err = tx.Balances.Get(ctx, userID)
		return err
	})
	if err != nil {
		return 0, classify(err)
	}
	return amount, nil
}

func (s *marketService) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	amount, err := s.repo.Balances.Get(ctx, userID)
	if err != nil {
		return 0, classify(err)
	}
	return amount, nil
}

func (s *marketService) CreateListing(ctx context.Context, sellerID, entryID uuid.UUID, price int64) (*models.SaleListing, error) {
	var l *models.SaleListing
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		l, err = s.book.CreateListing(ctx, tx, sellerID, entryID, price)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return l, nil
}

func (s *marketService) CancelListing(ctx context.Context, listingID, sellerID uuid.UUID) (*models.SaleListing, error) {
	var l *models.SaleListing
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		l, err = s.book.CancelListing(ctx, tx, listingID, sellerID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return l, nil
}

func (s *marketService) BuyListing(ctx context.Context, listingID, buyerID uuid.UUID) (*models.SaleListing, error) {
	var l *models.SaleListing
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		l, err = s.book.BuyListing(ctx, tx, listingID, buyerID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return l, nil
}

func (s *marketService) GetListing(ctx context.Context, listingID uuid.UUID) (*models.SaleListing, error) {
	l, err := s.repo.Listings.Get(ctx, listingID)
	if err != nil {
		return nil, classify(err)
	}
	if l == nil {
		return nil, ErrListingNotFound
	}
	return l, nil
}

func (s *marketService) ListActiveListings(ctx context.Context, itemID uuid.UUID) ([]models.SaleListing, error) {
	out, err := s.repo.Listings.ListActive(ctx, itemID)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *marketService) CreateBuyOrder(ctx context.Context, buyerID, itemID uuid.UUID, maxPrice int64) (*models.BuyOrder, error) {
	var o *models.BuyOrder
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		o, err = s.book.CreateBuyOrder(ctx, tx, buyerID, itemID, maxPrice)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return o, nil
}

func (s *marketService) CancelBuyOrder(ctx context.Context, orderID, buyerID uuid.UUID) (*models.BuyOrder, error) {
	var o *models.BuyOrder
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		o, err = s.book.CancelBuyOrder(ctx, tx, orderID, buyerID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return o, nil
}

func (s *marketService) GetBuyOrder(ctx context.Context, orderID uuid.UUID) (*models.BuyOrder, error) {
	o, err := s.repo.BuyOrders.Get(ctx, orderID)
	if err != nil {
		return nil, classify(err)
	}
	if o == nil {
		return nil, ErrBuyOrderNotFound
	}
	return o, nil
}

func (s *marketService) StartOrGetPendingTrade(ctx context.Context, userA, userB uuid.UUID) (*models.Trade, error) {
	var t *models.Trade
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		t, err = s.escrow.StartOrGetPending(ctx, tx, userA, userB)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (s *marketService) AddTradeItem(ctx context.Context, tradeID, actorID uuid.UUID, ref TradeItemRef) (*models.Trade, error) {
	var t *models.Trade
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		t, err = s.escrow.AddItem(ctx, tx, tradeID, actorID, ref)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (s *marketService) RemoveTradeItem(ctx context.Context, tradeID, actorID uuid.UUID, ref TradeItemRef) (*models.Trade, error) {
	var t *models.Trade
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		t, err = s.escrow.RemoveItem(ctx, tx, tradeID, actorID, ref)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

// ApproveTrade фиксирует одобрение в своей транзакции; второе одобрение сразу исполняет сделку.
// Если исполнение не удалось, одобрения сохраняются, а ошибка исполнения возвращается.
func (s *marketService) ApproveTrade(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	var t *models.Trade
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		t, err = s.escrow.Approve(ctx, tx, tradeID, actorID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	if !t.BothApproved() {
		return t, nil
	}

	done, err := s.ExecuteTrade(ctx, tradeID)
	if err != nil {
		s.log.Info("trade approved but not executed",
			zap.String("trade_id", tradeID.String()), zap.Error(err))
		return nil, err
	}
	return done, nil
}

func (s *marketService) ExecuteTrade(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	var t *models.Trade
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		t, err = s.escrow.Execute(ctx, tx, tradeID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (s *marketService) CancelTrade(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	var t *models.Trade
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		var err error
		t, err = s.escrow.Cancel(ctx, tx, tradeID, actorID)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (s *marketService) GetTradeByID(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	t, err := s.repo.Trades.Get(ctx, tradeID)
	if err != nil {
		return nil, classify(err)
	}
	if t == nil {
		return nil, ErrTradeNotFound
	}
	return t, nil
}

// RetireItem убирает удалённый из каталога предмет с рынка: отменяет заявки с возвратом резерва,
// снимает листинги и стирает все строки инвентаря. Возвращает число удалённых строк инвентаря.
func (s *marketService) RetireItem(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var n int64
	err := s.repo.WithTx(func(tx *repository.Repository) error {
		if err := s.book.retire(ctx, tx, itemID); err != nil {
			return err
		}
		var err error
		n, err = tx.Inventory.DeleteByItem(ctx, itemID)
		return err
	})
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

var _ MarketService = (*marketService)(nil)
