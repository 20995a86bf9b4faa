package broker

import (
	"context"
	"encoding/json"
	"testing"

	"mcstore/internal/models"
	"mcstore/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryWriter struct {
	messages []kafka.Message
}

func (w *memoryWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func newMemoryProducer(topic string) (*Producer, *memoryWriter) {
	w := &memoryWriter{}
	return &Producer{writer: w, topic: topic, logger: util.GetLogger()}, w
}

func TestNilPublisherIsNoop(t *testing.T) {
	var ep *EventPublisher
	assert.NoError(t, ep.PublishOrderEvent(context.Background(), &models.OrderEvent{OrderID: "o1"}))

	ep = NewEventPublisher(nil, nil)
	assert.NoError(t, ep.PublishChatSessionEvent(context.Background(), &models.ChatSessionEvent{SessionID: "s1"}))
	assert.Error(t, ep.PublishDeliveryRequested(context.Background(), &models.DeliveryRequestedEvent{}))
}

func TestDeliveryRoundTrip(t *testing.T) {
	delivery, w := newMemoryProducer("delivery-requests")
	dp := NewDeliveryPublisher(NewEventPublisher(nil, delivery))

	require.NoError(t, dp.Deliver(context.Background(), "order-1", "user-1", "product-1"))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "user-user-1", string(w.messages[0].Key))

	var got *models.DeliveryRequestedEvent
	h := NewEventHandler()
	h.OnDeliveryRequested(func(ctx context.Context, e *models.DeliveryRequestedEvent) error {
		got = e
		return nil
	})
	require.NoError(t, h.HandleMessage(context.Background(), w.messages[0]))
	require.NotNil(t, got)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, "product-1", got.ProductID)
	assert.NotEmpty(t, got.EventID)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	raw, err := json.Marshal(NewBaseEvent(models.EventTypeOrderCreated))
	require.NoError(t, err)

	h := NewEventHandler()
	assert.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: raw}))
	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{")}))
}
