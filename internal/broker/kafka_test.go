package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader serves a fixed list of messages and then blocks until ctx is done
type scriptedReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func (r *scriptedReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTestConsumer(reader messageReader) *Consumer {
	c := newConsumer(reader, "delivery-requests")
	c.retryBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	return c
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	reader := &scriptedReader{messages: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	consumer := newTestConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handled []int64
	failures := 0
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, msg.Offset)
			if msg.Offset == 1 && failures < 2 {
				failures++
				return errors.New("database unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 1, 1, 2}, handled)
	assert.Equal(t, []int64{1, 2}, reader.commits())
}

func TestConsumerSkipsMalformedMessages(t *testing.T) {
	reader := &scriptedReader{messages: []kafka.Message{
		{Offset: 7, Value: []byte("not json")},
		{Offset: 8, Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)},
	}}
	consumer := newTestConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.StartConsuming(ctx, NewEventHandler().HandleMessage) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []int64{7, 8}, reader.commits())
}

func TestConsumerStopsRetryingOnCancel(t *testing.T) {
	reader := &scriptedReader{messages: []kafka.Message{{Offset: 3}}}
	consumer := newTestConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := make(chan struct{}, 100)
	done := make(chan error, 1)
	go func() {
		done <- consumer.StartConsuming(ctx, func(context.Context, kafka.Message) error {
			select {
			case attempts <- struct{}{}:
			default:
			}
			return errors.New("still down")
		})
	}()

	<-attempts
	<-attempts
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, reader.commits())
}
