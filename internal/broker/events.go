package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"retail-service/internal/models"
	"retail-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher sends one keyed event
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishDeliveryRecorded publishes DeliveryRecorded event
func (ep *EventPublisher) PublishDeliveryRecorded(ctx context.Context, event *models.DeliveryRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, productKey(event.ProductID), event)
}

// PublishPOSSaleCreated publishes POSSaleCreated event
func (ep *EventPublisher) PublishPOSSaleCreated(ctx context.Context, event *models.POSSaleCreatedEvent) error {
	key := fmt.Sprintf("pos-sale-%d", event.POSSaleID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSaleCreated publishes SaleCreated event
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishSaleCompleted publishes SaleCompleted event
func (ep *EventPublisher) PublishSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishSaleCancelled publishes SaleCancelled event
func (ep *EventPublisher) PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, saleKey(event.SaleID), event)
}

// PublishStockDiscrepancy publishes StockDiscrepancy event, keyed by product when known
func (ep *EventPublisher) PublishStockDiscrepancy(ctx context.Context, event *models.StockDiscrepancyEvent) error {
	key := saleKey(event.SaleID)
	if event.ProductID != nil {
		key = productKey(*event.ProductID)
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

func saleKey(id int64) string {
	return fmt.Sprintf("sale-%d", id)
}

func productKey(id int64) string {
	return fmt.Sprintf("product-%d", id)
}

// LogProducer stands in for kafka when it is disabled. Events are only logged.
type LogProducer struct {
	logger *zap.Logger
}

// NewLogProducer creates a producer that writes events to the log
func NewLogProducer() *LogProducer {
	return &LogProducer{logger: util.GetLogger()}
}

// PublishEvent logs the event
func (p *LogProducer) PublishEvent(_ context.Context, key string, event interface{}) error {
	p.logger.Debug("Event not published, kafka disabled",
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentResult func(context.Context, *models.PaymentResultEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentResult registers a handler for PaymentResult events
func (eh *EventHandler) OnPaymentResult(handler func(context.Context, *models.PaymentResultEvent) error) {
	eh.onPaymentResult = handler
}

// HandleMessage routes messages to appropriate handlers. Messages of other types are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentResult:
		if eh.onPaymentResult != nil {
			var event models.PaymentResultEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentResult event: %w", err)
			}
			return eh.onPaymentResult(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
