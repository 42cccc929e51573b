package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"retail-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	productColumns  = "id, brand_name, product_name, selling_price, stock_qty, is_active, created_at, updated_at"
	movementColumns = "id, product_id, delta, balance_after, kind, reference, created_at"
	deliveryColumns = "id, product_id, supplier_id, quantity_bought, cost_price_per_unit, total_cost, delivered_at"
)

// postgres error codes
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// Store is the postgres Repository
type Store struct {
	queries
	db *sqlx.DB
}

// queries runs against either the pool or an open transaction
type queries struct {
	ext sqlx.ExtContext
}

type pgTx struct {
	queries
}

var (
	_ Repository = (*Store)(nil)
	_ Tx         = (*pgTx)(nil)
)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an existing connection
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{queries: queries{ext: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a read-committed transaction. Row locks taken with
// FOR UPDATE inside fn are released at commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{queries{ext: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID
func (q queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.ext, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// LockProduct selects the product row FOR UPDATE
func (q queries) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q.ext, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}
	return &product, nil
}

// SetProductStock writes the stock quantity of a locked product
func (q queries) SetProductStock(ctx context.Context, id int64, qty int) error {
	return execOne(ctx, q.ext, "product", id,
		"UPDATE products SET stock_qty = $1, updated_at = NOW() WHERE id = $2", qty, id)
}

// MovementExists reports whether a movement for (kind, reference) was applied
func (q queries) MovementExists(ctx context.Context, kind models.MovementKind, reference string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM stock_movements WHERE kind = $1 AND reference = $2)", kind, reference)
	return exists, err
}

// InsertStockMovement appends a ledger movement
func (q queries) InsertStockMovement(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements (product_id, delta, balance_after, kind, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.ext, m, query, m.ProductID, m.Delta, m.BalanceAfter, m.Kind, m.Reference)
	return translate(err)
}

// ListStockMovements lists a product's movements oldest first
func (q queries) ListStockMovements(ctx context.Context, productID int64) ([]models.StockMovement, error) {
	movements := []models.StockMovement{}
	err := sqlx.SelectContext(ctx, q.ext, &movements,
		"SELECT "+movementColumns+" FROM stock_movements WHERE product_id = $1 ORDER BY id", productID)
	return movements, err
}

// CreateProduct inserts a product
func (q queries) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (brand_name, product_name, selling_price, stock_qty, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return sqlx.GetContext(ctx, q.ext, p, query,
		p.BrandName, p.ProductName, p.SellingPrice, p.StockQty, p.IsActive)
}

// UpdateProductPrice changes the selling price. Existing lines keep their locked price.
func (q queries) UpdateProductPrice(ctx context.Context, id int64, price decimal.Decimal) error {
	return execOne(ctx, q.ext, "product", id,
		"UPDATE products SET selling_price = $1, updated_at = NOW() WHERE id = $2", price, id)
}

// DeleteProduct deletes a product unless a line, delivery or movement references it
func (q queries) DeleteProduct(ctx context.Context, id int64) error {
	err := execOne(ctx, q.ext, "product", id, "DELETE FROM products WHERE id = $1", id)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
		return models.ErrProductReferenced
	}
	return err
}

// CreateDelivery inserts a delivery record
func (q queries) CreateDelivery(ctx context.Context, d *models.DeliveryRecord) error {
	query := `
		INSERT INTO deliveries (product_id, supplier_id, quantity_bought, cost_price_per_unit, total_cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, delivered_at`

	return sqlx.GetContext(ctx, q.ext, d, query,
		d.ProductID, d.SupplierID, d.QuantityBought, d.CostPricePerUnit, d.TotalCost)
}

// ListDeliveries lists deliveries for a product, newest first
func (q queries) ListDeliveries(ctx context.Context, productID int64) ([]models.DeliveryRecord, error) {
	deliveries := []models.DeliveryRecord{}
	err := sqlx.SelectContext(ctx, q.ext, &deliveries,
		"SELECT "+deliveryColumns+" FROM deliveries WHERE product_id = $1 ORDER BY delivered_at DESC, id DESC", productID)
	return deliveries, err
}

// execOne runs a statement that must touch exactly one row
func execOne(ctx context.Context, ext sqlx.ExtContext, entity string, id any, query string, args ...any) error {
	res, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NewNotFoundError(entity, id)
	}
	return nil
}

// translate maps unique violations to ErrDuplicateKey
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}
