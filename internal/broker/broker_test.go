package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"enrollment-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishOrderEventKeyedByOrder(t *testing.T) {
	writer := &fakeWriter{}
	publisher := NewEventPublisher(newProducer(writer))

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeOrderPaid, Timestamp: time.Now().UTC()},
		OrderID:   "order-uuid",
		Owner:     "learner",
		State:     models.OrderStatePaid,
	}
	require.NoError(t, publisher.PublishOrderEvent(context.Background(), event))
	require.NoError(t, publisher.PublishCertificateIssued(context.Background(), &models.CertificateIssuedEvent{
		BaseEvent:     models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeCertificateIssued},
		OrderID:       "order-uuid",
		CertificateID: "cert-1",
	}))

	require.Len(t, writer.messages, 2)
	for _, msg := range writer.messages {
		assert.Equal(t, "order-order-uuid", string(msg.Key))
	}

	var decoded models.OrderEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, models.EventTypeOrderPaid, decoded.EventType)
	assert.Equal(t, "learner", decoded.Owner)
}

func TestPublishEventWriteFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	publisher := NewEventPublisher(newProducer(writer))

	err := publisher.PublishOrderEvent(context.Background(), &models.OrderEvent{OrderID: "o"})
	assert.ErrorContains(t, err, "broker down")
}

func TestHandleMessageRoutesPaymentEvents(t *testing.T) {
	handler := NewEventHandler()

	var succeeded *models.PaymentSucceededEvent
	var failed *models.PaymentFailedEvent
	handler.OnPaymentSucceeded(func(_ context.Context, e *models.PaymentSucceededEvent) error {
		succeeded = e
		return nil
	})
	handler.OnPaymentFailed(func(_ context.Context, e *models.PaymentFailedEvent) error {
		failed = e
		return errors.New("retry later")
	})

	ctx := context.Background()
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{
		Value: []byte(`{"event_id":"e1","event_type":"PAYMENT_SUCCEEDED","order_id":"o1","amount":14990,"tx_id":"tx"}`),
	}))
	require.NotNil(t, succeeded)
	assert.Equal(t, "o1", succeeded.OrderID)
	assert.Equal(t, int64(14990), succeeded.Amount)

	err := handler.HandleMessage(ctx, kafka.Message{
		Value: []byte(`{"event_id":"e2","event_type":"PAYMENT_FAILED","order_id":"o2","reason":"declined"}`),
	})
	assert.Error(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, "declined", failed.Reason)

	assert.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}))
	assert.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: []byte(`not json`)}))
}
