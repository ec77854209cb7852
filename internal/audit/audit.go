// Package audit публикует события рынка после успешных операций.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	InventoryAdded       EventType = "inventory.added"
	InventoryRemoved     EventType = "inventory.removed"
	InventoryTransferred EventType = "inventory.transferred"
	BalanceAdjusted      EventType = "balance.adjusted"
	ListingCreated       EventType = "listing.created"
	ListingCancelled     EventType = "listing.cancelled"
	ListingSold          EventType = "listing.sold"
	BuyOrderCreated      EventType = "buy_order.created"
	BuyOrderCancelled    EventType = "buy_order.cancelled"
	TradeStarted         EventType = "trade.started"
	TradeUpdated         EventType = "trade.updated"
	TradeApproved        EventType = "trade.approved"
	TradeCompleted       EventType = "trade.completed"
	TradeCancelled       EventType = "trade.cancelled"
	ItemRetired          EventType = "item.retired"
)

type Event struct {
	ID        uuid.UUID      `json:"id"`
	Type      EventType      `json:"type"`
	ActorID   uuid.UUID      `json:"actor_id"`
	SubjectID uuid.UUID      `json:"subject_id"`
	Fields    map[string]any `json:"fields,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink получает события; ошибка публикации никогда не отменяет уже выполненную операцию.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	s.log.Info("audit",
		zap.String("type", string(e.Type)),
		zap.String("actor_id", e.ActorID.String()),
		zap.String("subject_id", e.SubjectID.String()),
		zap.Any("fields", e.Fields),
	)
	return nil
}

// MultiSink публикует в каждый sink; возвращает первую ошибку, но не прерывает рассылку.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
