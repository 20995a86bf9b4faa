package worker

import (
	"context"
	"errors"
	"fmt"

	"mcstore/internal/broker"
	"mcstore/internal/models"
	"mcstore/internal/service"
	"mcstore/internal/util"

	"go.uber.org/zap"
)

// EventLog records which events were already handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// ProductDeliverer runs a product's in-game commands for a user
type ProductDeliverer interface {
	DeliverProduct(ctx context.Context, userID, productID string) error
}

// DeliveryWorker consumes DELIVERY_REQUESTED events and dispatches them to the game server
type DeliveryWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLog
	deliverer    ProductDeliverer
	logger       *zap.Logger
}

// NewDeliveryWorker creates a new delivery worker
func NewDeliveryWorker(consumer *broker.Consumer, events EventLog, deliverer ProductDeliverer) *DeliveryWorker {
	w := &DeliveryWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		deliverer:    deliverer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnDeliveryRequested(w.handleDelivery)
	return w
}

// Start consumes until ctx is cancelled
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting delivery worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *DeliveryWorker) Stop() error {
	w.logger.Info("Stopping delivery worker")
	return w.consumer.Close()
}

// handleDelivery is idempotent per event id. Events for deleted users or products
// are recorded as handled so they are not redelivered forever.
func (w *DeliveryWorker) handleDelivery(ctx context.Context, event *models.DeliveryRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "DeliveryWorker.handleDelivery")
	defer span.End()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		w.logger.Info("Delivery already handled, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.deliverer.DeliverProduct(ctx, event.UserID, event.ProductID); err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			return err
		}
		w.logger.Warn("Dropping delivery for missing user or product",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	w.logger.Info("Delivery handled",
		zap.String("order_id", event.OrderID),
		zap.String("user_id", event.UserID),
		zap.String("product_id", event.ProductID))
	return nil
}
