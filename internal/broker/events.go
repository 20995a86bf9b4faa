package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mcstore/internal/models"
	"mcstore/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events. A nil producer turns
// publishing into a no-op so the app runs without Kafka.
type EventPublisher struct {
	orders   *Producer
	delivery *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, delivery *Producer) *EventPublisher {
	return &EventPublisher{orders: orders, delivery: delivery}
}

// NewBaseEvent stamps a new event of the given type
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishOrderEvent publishes an order lifecycle event keyed by order id
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	if ep == nil || ep.orders == nil {
		return nil
	}
	return ep.orders.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishChatSessionEvent publishes a chat claim/close/reopen event keyed by session id
func (ep *EventPublisher) PublishChatSessionEvent(ctx context.Context, event *models.ChatSessionEvent) error {
	if ep == nil || ep.orders == nil {
		return nil
	}
	return ep.orders.PublishEvent(ctx, "chat-"+event.SessionID, event)
}

// PublishDeliveryRequested queues one product delivery for the worker
func (ep *EventPublisher) PublishDeliveryRequested(ctx context.Context, event *models.DeliveryRequestedEvent) error {
	if ep == nil || ep.delivery == nil {
		return fmt.Errorf("delivery topic is not configured")
	}
	return ep.delivery.PublishEvent(ctx, "user-"+event.UserID, event)
}

// DeliveryPublisher satisfies the order flow's deliverer by queueing
// each line on the delivery topic instead of calling the plugin inline
type DeliveryPublisher struct {
	publisher *EventPublisher
}

func NewDeliveryPublisher(publisher *EventPublisher) *DeliveryPublisher {
	return &DeliveryPublisher{publisher: publisher}
}

// Deliver publishes a DELIVERY_REQUESTED event
func (dp *DeliveryPublisher) Deliver(ctx context.Context, orderID, userID, productID string) error {
	event := &models.DeliveryRequestedEvent{
		BaseEvent: NewBaseEvent(models.EventTypeDeliveryRequested),
		OrderID:   orderID,
		UserID:    userID,
		ProductID: productID,
	}
	return dp.publisher.PublishDeliveryRequested(ctx, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onDeliveryRequested func(context.Context, *models.DeliveryRequestedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnDeliveryRequested registers a handler for DELIVERY_REQUESTED events
func (eh *EventHandler) OnDeliveryRequested(handler func(context.Context, *models.DeliveryRequestedEvent) error) {
	eh.onDeliveryRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeDeliveryRequested:
		if eh.onDeliveryRequested != nil {
			var event models.DeliveryRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal DeliveryRequested event: %v", ErrMalformedEvent, err)
			}
			return eh.onDeliveryRequested(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
