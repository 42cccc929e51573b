package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"retail-service/internal/models"
	"retail-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	keys   []string
	events []interface{}
}

func (p *recordingPublisher) PublishEvent(_ context.Context, key string, event interface{}) error {
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func TestEventPublisherKeys(t *testing.T) {
	ctx := context.Background()
	rec := &recordingPublisher{}
	ep := NewEventPublisher(rec)
	productID := int64(7)

	require.NoError(t, ep.PublishDeliveryRecorded(ctx, &models.DeliveryRecordedEvent{ProductID: 3}))
	require.NoError(t, ep.PublishPOSSaleCreated(ctx, &models.POSSaleCreatedEvent{POSSaleID: 4}))
	require.NoError(t, ep.PublishSaleCreated(ctx, &models.SaleCreatedEvent{SaleID: 5}))
	require.NoError(t, ep.PublishSaleCompleted(ctx, &models.SaleCompletedEvent{SaleID: 5}))
	require.NoError(t, ep.PublishSaleCancelled(ctx, &models.SaleCancelledEvent{SaleID: 6}))
	require.NoError(t, ep.PublishStockDiscrepancy(ctx, &models.StockDiscrepancyEvent{SaleID: 5, ProductID: &productID}))
	require.NoError(t, ep.PublishStockDiscrepancy(ctx, &models.StockDiscrepancyEvent{SaleID: 6}))

	assert.Equal(t, []string{
		"product-3", "pos-sale-4", "sale-5", "sale-5", "sale-6", "product-7", "sale-6",
	}, rec.keys)
}

func paymentResultMessage(t *testing.T, ref string, code int) kafka.Message {
	t.Helper()
	value, err := json.Marshal(&models.PaymentResultEvent{
		BaseEvent:           models.NewBaseEvent(models.EventTypePaymentResult),
		ExternalReferenceID: ref,
		ResultCode:          code,
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestEventHandlerRoutesPaymentResults(t *testing.T) {
	ctx := context.Background()
	handler := NewEventHandler()

	var got []*models.PaymentResultEvent
	handler.OnPaymentResult(func(_ context.Context, e *models.PaymentResultEvent) error {
		got = append(got, e)
		return nil
	})

	require.NoError(t, handler.HandleMessage(ctx, paymentResultMessage(t, "ws_CO_1", 1032)))

	other, err := json.Marshal(&models.SaleCreatedEvent{BaseEvent: models.NewBaseEvent(models.EventTypeSaleCreated), SaleID: 1})
	require.NoError(t, err)
	require.NoError(t, handler.HandleMessage(ctx, kafka.Message{Value: other}))

	require.Len(t, got, 1)
	assert.Equal(t, "ws_CO_1", got[0].ExternalReferenceID)
	assert.Equal(t, 1032, got[0].ResultCode)

	assert.Error(t, handler.HandleMessage(ctx, kafka.Message{Value: []byte("not json")}))
}

func newTestConsumer(logger *zap.Logger) *Consumer {
	return &Consumer{maxAttempts: 3, backoff: time.Millisecond, logger: logger}
}

func TestConsumerRetriesUntilSuccess(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := newTestConsumer(zap.New(core))

	calls := 0
	err := c.handle(context.Background(), kafka.Message{}, func(context.Context, kafka.Message) error {
		calls++
		if calls < 2 {
			return errors.New("database unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, logs.FilterMessage("Error handling message, retrying").Len())
}

func TestConsumerDropsAfterMaxAttempts(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := newTestConsumer(zap.New(core))

	calls := 0
	err := c.handle(context.Background(), kafka.Message{Offset: 42}, func(context.Context, kafka.Message) error {
		calls++
		return errors.New("poison")
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	dropped := logs.FilterMessage("Dropping message after repeated failures").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(42), dropped[0].ContextMap()["offset"])
}

func TestConsumerStopsRetryingOnCancel(t *testing.T) {
	c := &Consumer{maxAttempts: 5, backoff: time.Hour, logger: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())

	err := c.handle(ctx, kafka.Message{}, func(context.Context, kafka.Message) error {
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogProducer(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	util.SetLogger(zap.New(core))

	p := NewLogProducer()
	require.NoError(t, p.PublishEvent(context.Background(), "sale-1", &models.SaleCreatedEvent{SaleID: 1}))
	assert.Equal(t, 1, logs.Len())
}
