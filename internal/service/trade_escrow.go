package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-service/internal/models"
	"trading-service/internal/repository"
)

// TradeEscrow — прямые обмены между двумя пользователями. Предметы не блокируются,
// пока сделка pending: наличие проверяется при добавлении и ещё раз при исполнении.
type TradeEscrow struct {
	inv *InventoryManager
	log *zap.Logger
	now func() time.Time
}

func NewTradeEscrow(inv *InventoryManager, log *zap.Logger, now func() time.Time) *TradeEscrow {
	if now == nil {
		now = time.Now
	}
	return &TradeEscrow{inv: inv, log: log, now: now}
}

func (e *TradeEscrow) StartOrGetPending(ctx context.Context, tx *repository.Repository, userA, userB uuid.UUID) (*models.Trade, error) {
	if userA == uuid.Nil || userB == uuid.Nil {
		return nil, ErrEmptyUser
	}
	if userA == userB {
		return nil, ErrSelfTrade
	}
	if err := tx.Trades.LockPair(ctx, userA, userB); err != nil {
		return nil, err
	}
	t, err := tx.Trades.FindPending(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	now := e.now()
	t = &models.Trade{
		ID:        uuid.New(),
		UserA:     userA,
		UserB:     userB,
		Status:    models.TradePending,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     []models.TradeItem{},
	}
	if err := tx.Trades.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *TradeEscrow) loadPending(ctx context.Context, tx *repository.Repository, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	t, err := tx.Trades.GetForUpdate(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTradeNotFound
	}
	if !t.IsParticipant(actorID) {
		return nil, ErrNotTradeMember
	}
	if t.Status != models.TradePending {
		return nil, ErrTradeNotPending
	}
	return t, nil
}

func findLine(t *models.Trade, from uuid.UUID, ref TradeItemRef) *models.TradeItem {
	for i := range t.Items {
		it := &t.Items[i]
		if it.FromUserID != from || it.ItemID != ref.ItemID {
			continue
		}
		if ref.UniqueTag == nil && it.UniqueTag == nil {
			return it
		}
		if ref.UniqueTag != nil && it.UniqueTag != nil && *it.UniqueTag == *ref.UniqueTag {
			return it
		}
	}
	return nil
}

func (e *TradeEscrow) AddItem(ctx context.Context, tx *repository.Repository, tradeID, actorID uuid.UUID, ref TradeItemRef) (*models.Trade, error) {
	if ref.ItemID == uuid.Nil {
		return nil, ErrItemNotFound
	}
	if ref.UniqueTag == nil && ref.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	t, err := e.loadPending(ctx, tx, tradeID, actorID)
	if err != nil {
		return nil, err
	}

	if ref.UniqueTag != nil {
		tag := *ref.UniqueTag
		for _, it := range t.Items {
			if it.UniqueTag != nil && *it.UniqueTag == tag {
				return nil, ErrDuplicateTag
			}
		}
		entry, err := tx.Inventory.GetByTag(ctx, tag)
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.OwnerID != actorID || entry.ItemID != ref.ItemID {
			return nil, &MissingItemError{UserID: actorID, ItemID: ref.ItemID, UniqueTag: &tag, Need: 1}
		}
		if err := tx.Trades.AddItem(ctx, &models.TradeItem{
			ID:         uuid.New(),
			TradeID:    t.ID,
			FromUserID: actorID,
			ItemID:     ref.ItemID,
			Quantity:   1,
			UniqueTag:  &tag,
			CreatedAt:  e.now(),
		}); err != nil {
			return nil, err
		}
		return tx.Trades.Get(ctx, t.ID)
	}

	line := findLine(t, actorID, ref)
	need := ref.Quantity
	if line != nil {
		need += line.Quantity
	}
	// непродаваемые стеки тоже можно обменять
	have, err := tx.Inventory.SumStack(ctx, actorID, ref.ItemID, false)
	if err != nil {
		return nil, err
	}
	if have < need {
		return nil, &MissingItemError{UserID: actorID, ItemID: ref.ItemID, Need: need, Have: have}
	}

	if line != nil {
		err = tx.Trades.UpdateItemQuantity(ctx, line.ID, need)
	} else {
		err = tx.Trades.AddItem(ctx, &models.TradeItem{
			ID:         uuid.New(),
			TradeID:    t.ID,
			FromUserID: actorID,
			ItemID:     ref.ItemID,
			Quantity:   ref.Quantity,
			CreatedAt:  e.now(),
		})
	}
	if err != nil {
		return nil, err
	}
	return tx.Trades.Get(ctx, t.ID)
}

func (e *TradeEscrow) RemoveItem(ctx context.Context, tx *repository.Repository, tradeID, actorID uuid.UUID, ref TradeItemRef) (*models.Trade, error) {
	if ref.UniqueTag == nil && ref.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	t, err := e.loadPending(ctx, tx, tradeID, actorID)
	if err != nil {
		return nil, err
	}
	line := findLine(t, actorID, ref)
	if line == nil {
		return nil, ErrTradeItemNotFound
	}

	if ref.UniqueTag != nil || ref.Quantity >= line.Quantity {
		err = tx.Trades.DeleteItem(ctx, line.ID)
	} else {
		err = tx.Trades.UpdateItemQuantity(ctx, line.ID, line.Quantity-ref.Quantity)
	}
	if err != nil {
		return nil, err
	}
	return tx.Trades.Get(ctx, t.ID)
}

// Approve ставит флаг одобрения участника. Исполнение запускает вызывающий, когда оба флага стоят.
func (e *TradeEscrow) Approve(ctx context.Context, tx *repository.Repository, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	t, err := e.loadPending(ctx, tx, tradeID, actorID)
	if err != nil {
		return nil, err
	}
	yes := true
	upd := repository.TradeUpdate{}
	if actorID == t.UserA {
		upd.ApprovedA = &yes
	} else {
		upd.ApprovedB = &yes
	}
	ok, err := tx.Trades.Update(ctx, t.ID, models.TradePending, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTradeNotPending
	}
	upd.Apply(t)
	t.UpdatedAt = e.now()
	return t, nil
}

type stackKey struct {
	user uuid.UUID
	item uuid.UUID
}

// verify проверяет, что у обеих сторон всё ещё есть всё обещанное.
func (e *TradeEscrow) verify(ctx context.Context, tx *repository.Repository, t *models.Trade) error {
	need := map[stackKey]int64{}
	var order []stackKey
	for _, it := range t.Items {
		if it.UniqueTag != nil {
			entry, err := tx.Inventory.GetByTag(ctx, *it.UniqueTag)
			if err != nil {
				return err
			}
			if entry == nil || entry.OwnerID != it.FromUserID || entry.ItemID != it.ItemID {
				tag := *it.UniqueTag
				return &MissingItemError{UserID: it.FromUserID, ItemID: it.ItemID, UniqueTag: &tag, Need: 1}
			}
			continue
		}
		k := stackKey{user: it.FromUserID, item: it.ItemID}
		if _, seen := need[k]; !seen {
			order = append(order, k)
		}
		need[k] += it.Quantity
	}
	for _, k := range order {
		have, err := tx.Inventory.SumStack(ctx, k.user, k.item, false)
		if err != nil {
			return err
		}
		if have < need[k] {
			return &MissingItemError{UserID: k.user, ItemID: k.item, Need: need[k], Have: have}
		}
	}
	return nil
}

type delivery struct {
	to      uuid.UUID
	item    uuid.UUID
	portion Portion
}

// Execute атомарно исполняет одобренную сделку: сначала всё списывается у отправителей, затем зачисляется получателям.
// При нехватке сделка остаётся pending с прежними флагами.
func (e *TradeEscrow) Execute(ctx context.Context, tx *repository.Repository, tradeID uuid.UUID) (*models.Trade, error) {
	t, err := tx.Trades.GetForUpdate(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTradeNotFound
	}
	if t.Status != models.TradePending {
		return nil, ErrTradeNotPending
	}
	if !t.BothApproved() {
		return nil, ErrTradeNotApproved
	}
	if err := e.verify(ctx, tx, t); err != nil {
		return nil, err
	}

	var deliveries []delivery
	for _, it := range t.Items {
		to := t.Counterparty(it.FromUserID)
		if it.UniqueTag != nil {
			// уникальная копия переезжает одной строкой вместе с тегом и атрибутами
			if err := e.inv.Transfer(ctx, tx, it.FromUserID, to, it.ItemID, *it.UniqueTag); err != nil {
				return nil, err
			}
			continue
		}
		portions, err := e.inv.Remove(ctx, tx, it.FromUserID, it.ItemID, it.Quantity)
		if err != nil {
			return nil, err
		}
		for _, p := range portions {
			deliveries = append(deliveries, delivery{to: to, item: it.ItemID, portion: p})
		}
	}
	for _, d := range deliveries {
		// у получателя обмена нет цены покупки
		if _, err := e.inv.putStack(ctx, tx, d.to, d.item, d.portion.Quantity, d.portion.Sellable, nil); err != nil {
			return nil, err
		}
	}

	now := e.now()
	completed := models.TradeCompleted
	upd := repository.TradeUpdate{Status: &completed, CompletedAt: &now}
	ok, err := tx.Trades.Update(ctx, t.ID, models.TradePending, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTradeNotPending
	}
	upd.Apply(t)
	t.UpdatedAt = now
	return t, nil
}

func (e *TradeEscrow) Cancel(ctx context.Context, tx *repository.Repository, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	t, err := e.loadPending(ctx, tx, tradeID, actorID)
	if err != nil {
		return nil, err
	}
	cancelled := models.TradeCancelled
	upd := repository.TradeUpdate{Status: &cancelled}
	ok, err := tx.Trades.Update(ctx, t.ID, models.TradePending, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTradeNotPending
	}
	upd.Apply(t)
	t.UpdatedAt = e.now()
	return t, nil
}
