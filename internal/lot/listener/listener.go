package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fekuna/omnipos-lot-service/internal/lot"
	"github.com/fekuna/omnipos-lot-service/internal/lot/dto"
	"github.com/fekuna/omnipos-lot-service/internal/model"
	"github.com/fekuna/omnipos-lot-service/internal/pkg/logger"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCancelled = "OrderCancelled"
	EventOrderShipped   = "OrderShipped"

	ConsumerTypeSalesOrder = "sales_order"

	systemActor     = "system"
	reserveAttempts = 3
)

// MessageReader is satisfied by *broker.KafkaConsumer.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type OrderListener struct {
	consumer MessageReader
	uc       lot.UseCase
	logger   logger.ZapLogger
}

func NewOrderListener(consumer MessageReader, uc lot.UseCase, logger logger.ZapLogger) *OrderListener {
	return &OrderListener{
		consumer: consumer,
		uc:       uc,
		logger:   logger,
	}
}

func (l *OrderListener) Start(ctx context.Context) {
	l.logger.Info("Starting Order Kafka Listener")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Stopping Order Kafka Listener")
			return
		default:
			msg, err := l.consumer.ReadMessage(ctx)
			if err != nil {
				// Don't log context canceled error as error
				if ctx.Err() != nil {
					return
				}
				l.logger.Error("Failed to read kafka message", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}
			l.processMessage(ctx, msg.Value)
		}
	}
}

type OrderEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   OrderPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type OrderPayload struct {
	ID         string             `json:"id"`
	MerchantID string             `json:"merchant_id"`
	UserID     string             `json:"user_id"`
	Items      []OrderItemPayload `json:"items"`
}

type OrderItemPayload struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (l *OrderListener) processMessage(ctx context.Context, value []byte) {
	var event OrderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error("Failed to unmarshal event", zap.Error(err))
		return
	}

	switch event.EventType {
	case EventOrderConfirmed:
		l.reserveOrder(ctx, event)
	case EventOrderCancelled:
		l.settleOrder(ctx, event, l.uc.Release, "release")
	case EventOrderShipped:
		l.settleOrder(ctx, event, l.uc.ConsumeReservation, "consume")
	}
}

func actorOf(event OrderEvent) string {
	if event.Payload.UserID != "" {
		return event.Payload.UserID
	}
	return systemActor
}

func (l *OrderListener) reserveOrder(ctx context.Context, event OrderEvent) {
	l.logger.Info("Processing OrderConfirmed event", zap.String("order_id", event.Payload.ID))

	for _, item := range event.Payload.Items {
		input := &dto.ReserveQuantityInput{
			MerchantID:   event.Payload.MerchantID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			RequireFull:  true,
			ConsumerType: ConsumerTypeSalesOrder,
			ConsumerID:   event.Payload.ID,
			Actor:        actorOf(event),
		}

		var err error
		for attempt := 1; attempt <= reserveAttempts; attempt++ {
			_, _, err = l.uc.ReserveQuantity(ctx, input)
			if !errors.Is(err, lot.ErrConcurrencyConflict) {
				break
			}
			l.logger.Warn("Reservation raced, re-planning",
				zap.String("order_id", event.Payload.ID),
				zap.String("product_id", item.ProductID),
				zap.Int("attempt", attempt))
		}
		if err != nil {
			l.logger.Error("Failed to reserve stock for order item",
				zap.String("order_id", event.Payload.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}
}

func (l *OrderListener) settleOrder(ctx context.Context, event OrderEvent, settle func(ctx context.Context, merchantID, reservationID, actor string) error, action string) {
	l.logger.Info("Processing order event",
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.Payload.ID))

	reservations, err := l.uc.ListReservationsByConsumer(ctx, event.Payload.MerchantID, ConsumerTypeSalesOrder, event.Payload.ID)
	if err != nil {
		l.logger.Error("Failed to list order reservations", zap.String("order_id", event.Payload.ID), zap.Error(err))
		return
	}

	for _, res := range reservations {
		if res.Status != model.ReservationStatusActive {
			continue
		}
		if err := settle(ctx, event.Payload.MerchantID, res.ID, actorOf(event)); err != nil {
			l.logger.Error("Failed to "+action+" reservation",
				zap.String("order_id", event.Payload.ID),
				zap.String("reservation_id", res.ID),
				zap.Error(err),
			)
		}
	}
}
