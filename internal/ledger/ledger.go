// Package ledger owns Product.stock_qty. Every stock change in the service
// goes through Credit or Debit, inside the caller's transaction.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"go.uber.org/zap"
)

// Entry identifies one stock-affecting event. Kind and Reference together
// are the idempotency key: an entry is applied at most once.
type Entry struct {
	ProductID int64
	Quantity  int
	Kind      models.MovementKind
	Reference string
}

// Result is the outcome of a ledger operation
type Result struct {
	StockQty int
	// Applied is false when the entry had already been applied before
	Applied bool
}

// StockLedger applies credits and debits to product stock
type StockLedger struct {
	logger *zap.Logger
}

// New creates a new stock ledger
func New() *StockLedger {
	return &StockLedger{logger: util.GetLogger()}
}

// Reference builds the movement reference of a record
func Reference(kind models.MovementKind, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// Credit adds e.Quantity to stock. It fails only when the product is missing.
func (l *StockLedger) Credit(ctx context.Context, tx store.Tx, e Entry) (Result, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Credit")
	defer span.End()

	if err := validate(e); err != nil {
		return Result{}, err
	}

	product, applied, err := l.lock(ctx, tx, e)
	if err != nil || applied {
		return l.replayed(product, err)
	}

	balance := product.StockQty + e.Quantity
	if err := l.apply(ctx, tx, e, e.Quantity, balance); err != nil {
		return Result{}, err
	}

	util.StockCreditedUnits.Add(float64(e.Quantity))
	return Result{StockQty: balance, Applied: true}, nil
}

// Debit removes e.Quantity from stock, failing with *models.InsufficientStockError
// when the product holds less. Nothing is written on failure.
func (l *StockLedger) Debit(ctx context.Context, tx store.Tx, e Entry) (Result, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Debit")
	defer span.End()

	if err := validate(e); err != nil {
		return Result{}, err
	}

	product, applied, err := l.lock(ctx, tx, e)
	if err != nil || applied {
		return l.replayed(product, err)
	}

	if product.StockQty < e.Quantity {
		util.StockDebitsRejected.Inc()
		return Result{StockQty: product.StockQty}, &models.InsufficientStockError{
			ProductID: e.ProductID,
			Requested: e.Quantity,
			Available: product.StockQty,
		}
	}

	balance := product.StockQty - e.Quantity
	if err := l.apply(ctx, tx, e, -e.Quantity, balance); err != nil {
		return Result{}, err
	}

	util.StockDebitedUnits.Add(float64(e.Quantity))
	return Result{StockQty: balance, Applied: true}, nil
}

// LockProducts locks the given products in ascending id order and returns them by id.
// A fixed lock order keeps concurrent multi-line transactions from deadlocking.
func (l *StockLedger) LockProducts(ctx context.Context, tx store.Tx, ids []int64) (map[int64]*models.Product, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	products := make(map[int64]*models.Product, len(sorted))
	for _, id := range sorted {
		if _, ok := products[id]; ok {
			continue
		}
		product, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = product
	}
	return products, nil
}

// lock takes the product row lock, then checks whether the entry was already applied.
// Entries for one reference always target one product, so the row lock serialises replays too.
func (l *StockLedger) lock(ctx context.Context, tx store.Tx, e Entry) (*models.Product, bool, error) {
	product, err := tx.LockProduct(ctx, e.ProductID)
	if err != nil {
		return nil, false, err
	}

	exists, err := tx.MovementExists(ctx, e.Kind, e.Reference)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check movement: %w", err)
	}
	if exists {
		l.logger.Info("Stock movement already applied",
			zap.String("kind", string(e.Kind)),
			zap.String("reference", e.Reference))
	}
	return product, exists, nil
}

func (l *StockLedger) replayed(product *models.Product, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{StockQty: product.StockQty, Applied: false}, nil
}

func (l *StockLedger) apply(ctx context.Context, tx store.Tx, e Entry, delta, balance int) error {
	movement := &models.StockMovement{
		ProductID:    e.ProductID,
		Delta:        delta,
		BalanceAfter: balance,
		Kind:         e.Kind,
		Reference:    e.Reference,
	}
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return fmt.Errorf("failed to record stock movement: %w", err)
	}

	if err := tx.SetProductStock(ctx, e.ProductID, balance); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

func validate(e Entry) error {
	if e.Quantity <= 0 {
		return models.NewValidationError("quantity", "must be greater than zero")
	}
	if e.Reference == "" {
		return models.NewValidationError("reference", "is required")
	}
	return nil
}
