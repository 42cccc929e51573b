package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"retail-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const (
	saleColumns        = "id, client_id, status, total_amount, shipping_address, phone_number, created_at, updated_at"
	saleLineColumns    = "id, sale_id, product_id, quantity, price_at_sale, line_total"
	posSaleColumns     = "id, client_id, status, total_amount, payment_method, served_by, idempotency_key, created_at"
	posLineColumns     = "id, pos_sale_id, product_id, quantity, unit_price, line_total"
	paymentColumns     = "id, sale_id, external_reference_id, amount, currency, status, failure_reason, created_at, updated_at"
	discrepancyColumns = "id, sale_id, line_id, product_id, requested, available, reason, created_at"
)

// CreateSale creates a new online sale
func (q queries) CreateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		INSERT INTO sales (client_id, status, total_amount, shipping_address, phone_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, q.ext, sale, query,
		sale.ClientID, sale.Status, sale.TotalAmount, sale.ShippingAddress, sale.PhoneNumber)
}

// GetSale retrieves a sale by ID
func (q queries) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	return q.getSale(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = $1", id)
}

// LockSale selects the sale row FOR UPDATE
func (q queries) LockSale(ctx context.Context, id int64) (*models.Sale, error) {
	return q.getSale(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = $1 FOR UPDATE", id)
}

func (q queries) getSale(ctx context.Context, query string, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := sqlx.GetContext(ctx, q.ext, &sale, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("sale", id)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// UpdateSaleStatus updates sale status
func (q queries) UpdateSaleStatus(ctx context.Context, id int64, status models.SaleStatus) error {
	return execOne(ctx, q.ext, "sale", id,
		"UPDATE sales SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
}

// UpdateSaleTotal stores the recomputed total of a sale
func (q queries) UpdateSaleTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	return execOne(ctx, q.ext, "sale", id,
		"UPDATE sales SET total_amount = $1, updated_at = NOW() WHERE id = $2", total, id)
}

// DeleteSale deletes a sale. Lines and payment cascade.
func (q queries) DeleteSale(ctx context.Context, id int64) error {
	return execOne(ctx, q.ext, "sale", id, "DELETE FROM sales WHERE id = $1", id)
}

// ListExpiredPendingSales lists pending sales created before the cutoff, oldest first
func (q queries) ListExpiredPendingSales(ctx context.Context, createdBefore time.Time, limit int) ([]models.Sale, error) {
	sales := []models.Sale{}
	err := sqlx.SelectContext(ctx, q.ext, &sales,
		"SELECT "+saleColumns+" FROM sales WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.SaleStatusPending, createdBefore, limit)
	return sales, err
}

// CreateSaleLine creates a new sale line
func (q queries) CreateSaleLine(ctx context.Context, line *models.SaleLine) error {
	query := `
		INSERT INTO sale_lines (sale_id, product_id, quantity, price_at_sale, line_total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, q.ext, &line.ID, query,
		line.SaleID, line.ProductID, line.Quantity, line.PriceAtSale, line.LineTotal)
}

// GetSaleLine retrieves one line of a sale
func (q queries) GetSaleLine(ctx context.Context, saleID, lineID int64) (*models.SaleLine, error) {
	var line models.SaleLine
	err := sqlx.GetContext(ctx, q.ext, &line,
		"SELECT "+saleLineColumns+" FROM sale_lines WHERE sale_id = $1 AND id = $2", saleID, lineID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("sale line", lineID)
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// UpdateSaleLine writes quantity and line total. The locked price is never updated.
func (q queries) UpdateSaleLine(ctx context.Context, line *models.SaleLine) error {
	return execOne(ctx, q.ext, "sale line", line.ID,
		"UPDATE sale_lines SET quantity = $1, line_total = $2 WHERE sale_id = $3 AND id = $4",
		line.Quantity, line.LineTotal, line.SaleID, line.ID)
}

// DeleteSaleLine removes one line of a sale
func (q queries) DeleteSaleLine(ctx context.Context, saleID, lineID int64) error {
	return execOne(ctx, q.ext, "sale line", lineID,
		"DELETE FROM sale_lines WHERE sale_id = $1 AND id = $2", saleID, lineID)
}

// ListSaleLines retrieves all lines for a sale
func (q queries) ListSaleLines(ctx context.Context, saleID int64) ([]models.SaleLine, error) {
	lines := []models.SaleLine{}
	err := sqlx.SelectContext(ctx, q.ext, &lines,
		"SELECT "+saleLineColumns+" FROM sale_lines WHERE sale_id = $1 ORDER BY id", saleID)
	return lines, err
}

// CreatePOSSale creates a POS sale. A reused idempotency key yields ErrDuplicateKey.
func (q queries) CreatePOSSale(ctx context.Context, sale *models.POSSale) error {
	query := `
		INSERT INTO pos_sales (client_id, status, total_amount, payment_method, served_by, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.ext, sale, query,
		sale.ClientID, sale.Status, sale.TotalAmount, sale.PaymentMethod, sale.ServedBy, sale.IdempotencyKey)
	return translate(err)
}

// GetPOSSale retrieves a POS sale by ID
func (q queries) GetPOSSale(ctx context.Context, id int64) (*models.POSSale, error) {
	var sale models.POSSale
	err := sqlx.GetContext(ctx, q.ext, &sale,
		"SELECT "+posSaleColumns+" FROM pos_sales WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("pos sale", id)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetPOSSaleByIdempotencyKey returns nil, nil when no sale uses key
func (q queries) GetPOSSaleByIdempotencyKey(ctx context.Context, key string) (*models.POSSale, error) {
	var sale models.POSSale
	err := sqlx.GetContext(ctx, q.ext, &sale,
		"SELECT "+posSaleColumns+" FROM pos_sales WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// CreatePOSLine creates a new POS line
func (q queries) CreatePOSLine(ctx context.Context, line *models.POSLine) error {
	query := `
		INSERT INTO pos_lines (pos_sale_id, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return sqlx.GetContext(ctx, q.ext, &line.ID, query,
		line.POSSaleID, line.ProductID, line.Quantity, line.UnitPrice, line.LineTotal)
}

// UpdatePOSSaleTotal stores the recomputed total of a POS sale
func (q queries) UpdatePOSSaleTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	return execOne(ctx, q.ext, "pos sale", id,
		"UPDATE pos_sales SET total_amount = $1 WHERE id = $2", total, id)
}

// ListPOSLines retrieves all lines for a POS sale
func (q queries) ListPOSLines(ctx context.Context, posSaleID int64) ([]models.POSLine, error) {
	lines := []models.POSLine{}
	err := sqlx.SelectContext(ctx, q.ext, &lines,
		"SELECT "+posLineColumns+" FROM pos_lines WHERE pos_sale_id = $1 ORDER BY id", posSaleID)
	return lines, err
}

// CreatePayment creates a new payment record
func (q queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (sale_id, external_reference_id, amount, currency, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.ext, p, query,
		p.SaleID, p.ExternalReferenceID, p.Amount, p.Currency, p.Status, p.FailureReason)
	return translate(err)
}

// GetPaymentBySaleID retrieves the payment of a sale
func (q queries) GetPaymentBySaleID(ctx context.Context, saleID int64) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.ext, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE sale_id = $1", saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("payment for sale", saleID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockPaymentByReference selects the payment row FOR UPDATE
func (q queries) LockPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, q.ext, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE external_reference_id = $1 FOR UPDATE", reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("payment", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status
func (q queries) UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus, reason string) error {
	return execOne(ctx, q.ext, "payment", id,
		"UPDATE payments SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3",
		status, reason, id)
}

// CreateDiscrepancy records a stock discrepancy for manual review
func (q queries) CreateDiscrepancy(ctx context.Context, d *models.StockDiscrepancy) error {
	query := `
		INSERT INTO stock_discrepancies (sale_id, line_id, product_id, requested, available, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	return sqlx.GetContext(ctx, q.ext, d, query,
		d.SaleID, d.LineID, d.ProductID, d.Requested, d.Available, d.Reason)
}

// ListDiscrepancies lists discrepancies newest first
func (q queries) ListDiscrepancies(ctx context.Context, limit int) ([]models.StockDiscrepancy, error) {
	discrepancies := []models.StockDiscrepancy{}
	err := sqlx.SelectContext(ctx, q.ext, &discrepancies,
		"SELECT "+discrepancyColumns+" FROM stock_discrepancies ORDER BY id DESC LIMIT $1", limit)
	return discrepancies, err
}
