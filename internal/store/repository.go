package store

import (
	"context"
	"errors"
	"time"

	"retail-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrDuplicateKey is returned when a unique key (POS idempotency key, payment reference) already exists
var ErrDuplicateKey = errors.New("duplicate key")

// Reader holds the queries available both inside and outside a transaction
type Reader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListDeliveries(ctx context.Context, productID int64) ([]models.DeliveryRecord, error)
	ListStockMovements(ctx context.Context, productID int64) ([]models.StockMovement, error)

	GetSale(ctx context.Context, id int64) (*models.Sale, error)
	ListSaleLines(ctx context.Context, saleID int64) ([]models.SaleLine, error)
	ListExpiredPendingSales(ctx context.Context, createdBefore time.Time, limit int) ([]models.Sale, error)

	GetPOSSale(ctx context.Context, id int64) (*models.POSSale, error)
	GetPOSSaleByIdempotencyKey(ctx context.Context, key string) (*models.POSSale, error)
	ListPOSLines(ctx context.Context, posSaleID int64) ([]models.POSLine, error)

	GetPaymentBySaleID(ctx context.Context, saleID int64) (*models.Payment, error)
	ListDiscrepancies(ctx context.Context, limit int) ([]models.StockDiscrepancy, error)
}

// Tx is a unit of work. Everything written through one Tx commits or rolls back together.
type Tx interface {
	Reader

	// LockProduct reads the product row and holds an exclusive lock on it until the Tx ends
	LockProduct(ctx context.Context, id int64) (*models.Product, error)
	SetProductStock(ctx context.Context, id int64, qty int) error
	MovementExists(ctx context.Context, kind models.MovementKind, reference string) (bool, error)
	InsertStockMovement(ctx context.Context, m *models.StockMovement) error

	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProductPrice(ctx context.Context, id int64, price decimal.Decimal) error
	DeleteProduct(ctx context.Context, id int64) error

	CreateDelivery(ctx context.Context, d *models.DeliveryRecord) error

	CreateSale(ctx context.Context, sale *models.Sale) error
	LockSale(ctx context.Context, id int64) (*models.Sale, error)
	UpdateSaleStatus(ctx context.Context, id int64, status models.SaleStatus) error
	UpdateSaleTotal(ctx context.Context, id int64, total decimal.Decimal) error
	DeleteSale(ctx context.Context, id int64) error
	CreateSaleLine(ctx context.Context, line *models.SaleLine) error
	GetSaleLine(ctx context.Context, saleID, lineID int64) (*models.SaleLine, error)
	UpdateSaleLine(ctx context.Context, line *models.SaleLine) error
	DeleteSaleLine(ctx context.Context, saleID, lineID int64) error

	CreatePOSSale(ctx context.Context, sale *models.POSSale) error
	CreatePOSLine(ctx context.Context, line *models.POSLine) error
	UpdatePOSSaleTotal(ctx context.Context, id int64, total decimal.Decimal) error

	CreatePayment(ctx context.Context, p *models.Payment) error
	// LockPaymentByReference reads the payment and holds an exclusive lock on it until the Tx ends
	LockPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus, reason string) error

	CreateDiscrepancy(ctx context.Context, d *models.StockDiscrepancy) error
}

// Repository is implemented by the postgres Store and the MemoryStore
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
