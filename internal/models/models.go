package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinSellingPrice is the lowest price a product may be listed at
var MinSellingPrice = decimal.RequireFromString("0.01")

// Product represents a product in the catalog. StockQty is only written by the ledger.
type Product struct {
	ID           int64           `db:"id" json:"id"`
	BrandName    string          `db:"brand_name" json:"brand_name"`
	ProductName  string          `db:"product_name" json:"product_name"`
	SellingPrice decimal.Decimal `db:"selling_price" json:"selling_price"`
	StockQty     int             `db:"stock_qty" json:"stock_qty"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// DeliveryRecord is a supplier delivery. Immutable once created.
type DeliveryRecord struct {
	ID               int64           `db:"id" json:"id"`
	ProductID        int64           `db:"product_id" json:"product_id"`
	SupplierID       *int64          `db:"supplier_id" json:"supplier_id,omitempty"`
	QuantityBought   int             `db:"quantity_bought" json:"quantity_bought"`
	CostPricePerUnit decimal.Decimal `db:"cost_price_per_unit" json:"cost_price_per_unit"`
	TotalCost        decimal.Decimal `db:"total_cost" json:"total_cost"`
	DeliveredAt      time.Time       `db:"delivered_at" json:"delivered_at"`
}

// Sale is an online order. Stock is debited when its payment is confirmed.
type Sale struct {
	ID              int64           `db:"id" json:"id"`
	ClientID        *int64          `db:"client_id" json:"client_id,omitempty"`
	Status          SaleStatus      `db:"status" json:"status"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	PhoneNumber     string          `db:"phone_number" json:"phone_number"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// SaleLine is one product entry of a Sale. PriceAtSale is locked when the line is created.
type SaleLine struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      int64           `db:"sale_id" json:"sale_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	PriceAtSale decimal.Decimal `db:"price_at_sale" json:"price_at_sale"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

// POSSale is a walk-in transaction. It is completed the moment it exists.
type POSSale struct {
	ID             int64           `db:"id" json:"id"`
	ClientID       *int64          `db:"client_id" json:"client_id,omitempty"`
	Status         SaleStatus      `db:"status" json:"status"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentMethod  PaymentMethod   `db:"payment_method" json:"payment_method"`
	ServedBy       string          `db:"served_by" json:"served_by"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// POSLine is one scanned product of a POSSale
type POSLine struct {
	ID        int64           `db:"id" json:"id"`
	POSSaleID int64           `db:"pos_sale_id" json:"pos_sale_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// Payment tracks the gateway transaction of a Sale (one-to-one)
type Payment struct {
	ID                  int64           `db:"id" json:"id"`
	SaleID              int64           `db:"sale_id" json:"sale_id"`
	ExternalReferenceID string          `db:"external_reference_id" json:"external_reference_id"`
	Amount              decimal.Decimal `db:"amount" json:"amount"`
	Currency            string          `db:"currency" json:"currency"`
	Status              PaymentStatus   `db:"status" json:"status"`
	FailureReason       string          `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// StockMovement is one applied ledger delta. (Kind, Reference) is unique.
type StockMovement struct {
	ID           int64        `db:"id" json:"id"`
	ProductID    int64        `db:"product_id" json:"product_id"`
	Delta        int          `db:"delta" json:"delta"`
	BalanceAfter int          `db:"balance_after" json:"balance_after"`
	Kind         MovementKind `db:"kind" json:"kind"`
	Reference    string       `db:"reference" json:"reference"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// StockDiscrepancy records a confirmed sale whose stock could not be deducted
type StockDiscrepancy struct {
	ID        int64             `db:"id" json:"id"`
	SaleID    int64             `db:"sale_id" json:"sale_id"`
	LineID    *int64            `db:"line_id" json:"line_id,omitempty"`
	ProductID *int64            `db:"product_id" json:"product_id,omitempty"`
	Requested int               `db:"requested" json:"requested"`
	Available int               `db:"available" json:"available"`
	Reason    DiscrepancyReason `db:"reason" json:"reason"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
}

// SaleStatus is the state of a Sale or POSSale
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// PaymentStatus is the state of a Payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentMethod is how a POS sale was settled
type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobileMoney:
		return true
	}
	return false
}

// MovementKind identifies the event that produced a stock movement
type MovementKind string

const (
	MovementDelivery MovementKind = "delivery"
	MovementPOSLine  MovementKind = "pos_line"
	MovementSaleLine MovementKind = "sale_line"
)

// DiscrepancyReason explains a StockDiscrepancy
type DiscrepancyReason string

const (
	DiscrepancyOversold       DiscrepancyReason = "oversold"
	DiscrepancyLatePayment    DiscrepancyReason = "late_payment"
	DiscrepancyAmountMismatch DiscrepancyReason = "amount_mismatch"
)

// Payment failure reasons
const (
	FailureReasonDeclined    = "declined"
	FailureReasonExpired     = "expired"
	FailureReasonExpiredPaid = "expired_paid"
	FailureReasonDeleted     = "deleted"
	FailureReasonDeletedPaid = "deleted_paid"
)
