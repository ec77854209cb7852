package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-service/internal/models"
	"trading-service/internal/service"
)

type auditedService struct {
	next service.MarketService
	sink Sink
	log  *zap.Logger
	now  func() time.Time
}

// NewAuditedService оборачивает MarketService: после каждой успешной мутации публикуется событие.
func NewAuditedService(next service.MarketService, sink Sink, log *zap.Logger) service.MarketService {
	return &auditedService{next: next, sink: sink, log: log, now: time.Now}
}

func (s *auditedService) emit(ctx context.Context, typ EventType, actor, subject uuid.UUID, fields map[string]any) {
	e := Event{
		ID:        uuid.New(),
		Type:      typ,
		ActorID:   actor,
		SubjectID: subject,
		Fields:    fields,
		At:        s.now(),
	}
	if err := s.sink.Publish(ctx, e); err != nil {
		s.log.Warn("audit publish failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func (s *auditedService) AddInventory(ctx context.Context, in service.AddInventoryInput) ([]models.InventoryEntry, error) {
	out, err := s.next.AddInventory(ctx, in)
	if err == nil {
		s.emit(ctx, InventoryAdded, in.OwnerID, in.ItemID, map[string]any{"quantity": in.Quantity, "unique": in.Attributes != nil})
	}
	return out, err
}

func (s *auditedService) RemoveInventory(ctx context.Context, ownerID, itemID uuid.UUID, quantity int64) error {
	err := s.next.RemoveInventory(ctx, ownerID, itemID, quantity)
	if err == nil {
		s.emit(ctx, InventoryRemoved, ownerID, itemID, map[string]any{"quantity": quantity})
	}
	return err
}

func (s *auditedService) RemoveInventoryByTag(ctx context.Context, ownerID, itemID, tag uuid.UUID) error {
	err := s.next.RemoveInventoryByTag(ctx, ownerID, itemID, tag)
	if err == nil {
		s.emit(ctx, InventoryRemoved, ownerID, itemID, map[string]any{"unique_tag": tag.String()})
	}
	return err
}

func (s *auditedService) TransferInventory(ctx context.Context, fromID, toID, itemID, tag uuid.UUID) error {
	err := s.next.TransferInventory(ctx, fromID, toID, itemID, tag)
	if err == nil {
		s.emit(ctx, InventoryTransferred, fromID, itemID, map[string]any{"to": toID.String(), "unique_tag": tag.String()})
	}
	return err
}

func (s *auditedService) HasInventory(ctx context.Context, ownerID, itemID uuid.UUID, quantity int64, sellableOnly bool) (bool, error) {
	return s.next.HasInventory(ctx, ownerID, itemID, quantity, sellableOnly)
}

func (s *auditedService) GetInventory(ctx context.Context, ownerID uuid.UUID) ([]models.InventoryEntry, error) {
	return s.next.GetInventory(ctx, ownerID)
}

func (s *auditedService) AdjustBalance(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	amount, err := s.next.AdjustBalance(ctx, userID, delta)
	if err == nil {
		s.emit(ctx, BalanceAdjusted, userID, userID, map[string]any{"delta": delta, "balance": amount})
	}
	return amount, err
}

func (s *auditedService) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.next.GetBalance(ctx, userID)
}

func (s *auditedService) CreateListing(ctx context.Context, sellerID, entryID uuid.UUID, price int64) (*models.SaleListing, error) {
	l, err := s.next.CreateListing(ctx, sellerID, entryID, price)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, ListingCreated, sellerID, l.ID, map[string]any{"item_id": l.ItemID.String(), "price": l.Price})
	if l.Status == models.ListingSold {
		s.emitSold(ctx, l)
	}
	return l, nil
}

func (s *auditedService) emitSold(ctx context.Context, l *models.SaleListing) {
	fields := map[string]any{"item_id": l.ItemID.String(), "price": l.Price, "seller_id": l.SellerID.String()}
	buyer := uuid.Nil
	if l.BuyerID != nil {
		buyer = *l.BuyerID
	}
	s.emit(ctx, ListingSold, buyer, l.ID, fields)
}

func (s *auditedService) CancelListing(ctx context.Context, listingID, sellerID uuid.UUID) (*models.SaleListing, error) {
	l, err := s.next.CancelListing(ctx, listingID, sellerID)
	if err == nil {
		s.emit(ctx, ListingCancelled, sellerID, listingID, nil)
	}
	return l, err
}

func (s *auditedService) BuyListing(ctx context.Context, listingID, buyerID uuid.UUID) (*models.SaleListing, error) {
	l, err := s.next.BuyListing(ctx, listingID, buyerID)
	if err == nil {
		s.emitSold(ctx, l)
	}
	return l, err
}

func (s *auditedService) GetListing(ctx context.Context, listingID uuid.UUID) (*models.SaleListing, error) {
	return s.next.GetListing(ctx, listingID)
}

func (s *auditedService) ListActiveListings(ctx context.Context, itemID uuid.UUID) ([]models.SaleListing, error) {
	return s.next.ListActiveListings(ctx, itemID)
}

func (s *auditedService) CreateBuyOrder(ctx context.Context, buyerID, itemID uuid.UUID, maxPrice int64) (*models.BuyOrder, error) {
	o, err := s.next.CreateBuyOrder(ctx, buyerID, itemID, maxPrice)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, BuyOrderCreated, buyerID, o.ID, map[string]any{"item_id": itemID.String(), "max_price": maxPrice})
	if o.Status == models.BuyOrderFulfilled && o.ListingID != nil {
		s.emit(ctx, ListingSold, buyerID, *o.ListingID, map[string]any{"item_id": itemID.String(), "price": *o.FilledPrice})
	}
	return o, nil
}

func (s *auditedService) CancelBuyOrder(ctx context.Context, orderID, buyerID uuid.UUID) (*models.BuyOrder, error) {
	o, err := s.next.CancelBuyOrder(ctx, orderID, buyerID)
	if err == nil {
		s.emit(ctx, BuyOrderCancelled, buyerID, orderID, map[string]any{"refund": o.MaxPrice})
	}
	return o, err
}

func (s *auditedService) GetBuyOrder(ctx context.Context, orderID uuid.UUID) (*models.BuyOrder, error) {
	return s.next.GetBuyOrder(ctx, orderID)
}

func (s *auditedService) StartOrGetPendingTrade(ctx context.Context, userA, userB uuid.UUID) (*models.Trade, error) {
	t, err := s.next.StartOrGetPendingTrade(ctx, userA, userB)
	if err == nil {
		s.emit(ctx, TradeStarted, userA, t.ID, map[string]any{"counterparty": userB.String()})
	}
	return t, err
}

func (s *auditedService) AddTradeItem(ctx context.Context, tradeID, actorID uuid.UUID, ref service.TradeItemRef) (*models.Trade, error) {
	t, err := s.next.AddTradeItem(ctx, tradeID, actorID, ref)
	if err == nil {
		s.emit(ctx, TradeUpdated, actorID, tradeID, tradeRefFields("add", ref))
	}
	return t, err
}

func (s *auditedService) RemoveTradeItem(ctx context.Context, tradeID, actorID uuid.UUID, ref service.TradeItemRef) (*models.Trade, error) {
	t, err := s.next.RemoveTradeItem(ctx, tradeID, actorID, ref)
	if err == nil {
		s.emit(ctx, TradeUpdated, actorID, tradeID, tradeRefFields("remove", ref))
	}
	return t, err
}

func tradeRefFields(op string, ref service.TradeItemRef) map[string]any {
	fields := map[string]any{"op": op, "item_id": ref.ItemID.String()}
	if ref.UniqueTag != nil {
		fields["unique_tag"] = ref.UniqueTag.String()
	} else {
		fields["quantity"] = ref.Quantity
	}
	return fields
}

func (s *auditedService) ApproveTrade(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	t, err := s.next.ApproveTrade(ctx, tradeID, actorID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, TradeApproved, actorID, tradeID, nil)
	if t.Status == models.TradeCompleted {
		s.emit(ctx, TradeCompleted, actorID, tradeID, map[string]any{"items": len(t.Items)})
	}
	return t, nil
}

func (s *auditedService) ExecuteTrade(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	t, err := s.next.ExecuteTrade(ctx, tradeID)
	if err == nil {
		s.emit(ctx, TradeCompleted, uuid.Nil, tradeID, map[string]any{"items": len(t.Items)})
	}
	return t, err
}

func (s *auditedService) CancelTrade(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	t, err := s.next.CancelTrade(ctx, tradeID, actorID)
	if err == nil {
		s.emit(ctx, TradeCancelled, actorID, tradeID, nil)
	}
	return t, err
}

func (s *auditedService) GetTradeByID(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	return s.next.GetTradeByID(ctx, tradeID)
}

func (s *auditedService) RetireItem(ctx context.Context, itemID uuid.UUID) (int64, error) {
	n, err := s.next.RetireItem(ctx, itemID)
	if err == nil {
		s.emit(ctx, ItemRetired, uuid.Nil, itemID, map[string]any{"removed_entries": n})
	}
	return n, err
}
