package service

import (
	"context"
	"errors"
	"time"

	"retail-service/internal/gateway"
	"retail-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrRequestInProgress is returned when another request holds the same idempotency key
var ErrRequestInProgress = errors.New("a request with this idempotency key is in progress")

// EventPublisher publishes domain events once the corresponding transaction committed
type EventPublisher interface {
	PublishDeliveryRecorded(ctx context.Context, event *models.DeliveryRecordedEvent) error
	PublishPOSSaleCreated(ctx context.Context, event *models.POSSaleCreatedEvent) error
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error
	PublishSaleCancelled(ctx context.Context, event *models.SaleCancelledEvent) error
	PublishStockDiscrepancy(ctx context.Context, event *models.StockDiscrepancyEvent) error
}

// PaymentGateway starts the collection of an online sale payment
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error)
}

// IdempotencyCache holds short-lived request locks and idempotency results
type IdempotencyCache interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
	GetIdempotencyValue(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// LineItemRequest is one requested line. UnitPrice is honoured for POS lines only.
type LineItemRequest struct {
	ProductID int64            `json:"product_id" binding:"required"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

func validateItems(items []LineItemRequest) error {
	if len(items) == 0 {
		return models.NewValidationError("items", "at least one item is required")
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			return models.NewValidationError("product_id", "is required")
		}
		if item.Quantity <= 0 {
			return models.NewValidationError("quantity", "must be greater than zero")
		}
	}
	return nil
}
