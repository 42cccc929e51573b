package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeDeliveryRecorded = "DELIVERY_RECORDED"
	EventTypePOSSaleCreated   = "POS_SALE_CREATED"
	EventTypeSaleCreated      = "SALE_CREATED"
	EventTypeSaleCompleted    = "SALE_COMPLETED"
	EventTypeSaleCancelled    = "SALE_CANCELLED"
	EventTypeStockDiscrepancy = "STOCK_DISCREPANCY_DETECTED"
	EventTypePaymentResult    = "PAYMENT_RESULT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// DeliveryRecordedEvent published after a delivery credited stock
type DeliveryRecordedEvent struct {
	BaseEvent
	DeliveryID     int64           `json:"delivery_id"`
	ProductID      int64           `json:"product_id"`
	QuantityBought int             `json:"quantity_bought"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	StockQty       int             `json:"stock_qty"`
}

// POSSaleCreatedEvent published after a POS sale debited stock
type POSSaleCreatedEvent struct {
	BaseEvent
	POSSaleID   int64           `json:"pos_sale_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []LineItemData  `json:"items"`
}

// SaleCreatedEvent published when an online sale is awaiting payment
type SaleCreatedEvent struct {
	BaseEvent
	SaleID              int64           `json:"sale_id"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	ExternalReferenceID string          `json:"external_reference_id"`
}

// SaleCompletedEvent published when a sale's payment was confirmed
type SaleCompletedEvent struct {
	BaseEvent
	SaleID      int64           `json:"sale_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []LineItemData  `json:"items"`
}

// SaleCancelledEvent published when a sale's payment failed or expired
type SaleCancelledEvent struct {
	BaseEvent
	SaleID int64  `json:"sale_id"`
	Reason string `json:"reason"`
}

// StockDiscrepancyEvent published when a confirmed sale needs manual review
type StockDiscrepancyEvent struct {
	BaseEvent
	DiscrepancyID int64             `json:"discrepancy_id"`
	SaleID        int64             `json:"sale_id"`
	ProductID     *int64            `json:"product_id,omitempty"`
	Requested     int               `json:"requested"`
	Available     int               `json:"available"`
	Reason        DiscrepancyReason `json:"reason"`
}

// PaymentResultEvent is the gateway outcome delivered over kafka.
// ResultCode 0 means success, anything else failure.
type PaymentResultEvent struct {
	BaseEvent
	ExternalReferenceID string `json:"external_reference_id"`
	ResultCode          int    `json:"result_code"`
}

// LineItemData represents a line in events
type LineItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}
