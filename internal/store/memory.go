package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"retail-service/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Repository. Transactions run one at a time
// against a copy of the data that replaces the live copy only on success.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time
}

type memData struct {
	products      map[int64]models.Product
	movements     []models.StockMovement
	deliveries    []models.DeliveryRecord
	sales         map[int64]models.Sale
	saleLines     map[int64]models.SaleLine
	posSales      map[int64]models.POSSale
	posLines      map[int64]models.POSLine
	payments      map[int64]models.Payment
	discrepancies []models.StockDiscrepancy
	seq           int64
	now           func() time.Time
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Tx         = (*memData)(nil)
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
	s.data = &memData{
		products:  make(map[int64]models.Product),
		sales:     make(map[int64]models.Sale),
		saleLines: make(map[int64]models.SaleLine),
		posSales:  make(map[int64]models.POSSale),
		posLines:  make(map[int64]models.POSLine),
		payments:  make(map[int64]models.Payment),
		now:       func() time.Time { return s.now() },
	}
	return s
}

// SetClock overrides the clock used for server-assigned timestamps
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// WithTx runs fn with exclusive access to a copy of the data
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *MemoryStore) read() *memData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Reads go to the committed snapshot. A committed memData is never mutated
// again because every transaction works on a clone.

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.read().GetProduct(ctx, id)
}

func (s *MemoryStore) ListDeliveries(ctx context.Context, productID int64) ([]models.DeliveryRecord, error) {
	return s.read().ListDeliveries(ctx, productID)
}

func (s *MemoryStore) ListStockMovements(ctx context.Context, productID int64) ([]models.StockMovement, error) {
	return s.read().ListStockMovements(ctx, productID)
}

func (s *MemoryStore) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	return s.read().GetSale(ctx, id)
}

func (s *MemoryStore) ListSaleLines(ctx context.Context, saleID int64) ([]models.SaleLine, error) {
	return s.read().ListSaleLines(ctx, saleID)
}

func (s *MemoryStore) ListExpiredPendingSales(ctx context.Context, createdBefore time.Time, limit int) ([]models.Sale, error) {
	return s.read().ListExpiredPendingSales(ctx, createdBefore, limit)
}

func (s *MemoryStore) GetPOSSale(ctx context.Context, id int64) (*models.POSSale, error) {
	return s.read().GetPOSSale(ctx, id)
}

func (s *MemoryStore) GetPOSSaleByIdempotencyKey(ctx context.Context, key string) (*models.POSSale, error) {
	return s.read().GetPOSSaleByIdempotencyKey(ctx, key)
}

func (s *MemoryStore) ListPOSLines(ctx context.Context, posSaleID int64) ([]models.POSLine, error) {
	return s.read().ListPOSLines(ctx, posSaleID)
}

func (s *MemoryStore) GetPaymentBySaleID(ctx context.Context, saleID int64) (*models.Payment, error) {
	return s.read().GetPaymentBySaleID(ctx, saleID)
}

func (s *MemoryStore) ListDiscrepancies(ctx context.Context, limit int) ([]models.StockDiscrepancy, error) {
	return s.read().ListDiscrepancies(ctx, limit)
}

func (d *memData) clone() *memData {
	c := &memData{
		products:      make(map[int64]models.Product, len(d.products)),
		movements:     append([]models.StockMovement(nil), d.movements...),
		deliveries:    append([]models.DeliveryRecord(nil), d.deliveries...),
		sales:         make(map[int64]models.Sale, len(d.sales)),
		saleLines:     make(map[int64]models.SaleLine, len(d.saleLines)),
		posSales:      make(map[int64]models.POSSale, len(d.posSales)),
		posLines:      make(map[int64]models.POSLine, len(d.posLines)),
		payments:      make(map[int64]models.Payment, len(d.payments)),
		discrepancies: append([]models.StockDiscrepancy(nil), d.discrepancies...),
		seq:           d.seq,
		now:           d.now,
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.sales {
		c.sales[k] = v
	}
	for k, v := range d.saleLines {
		c.saleLines[k] = v
	}
	for k, v := range d.posSales {
		c.posSales[k] = v
	}
	for k, v := range d.posLines {
		c.posLines[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

func (d *memData) nextID() int64 {
	d.seq++
	return d.seq
}

func (d *memData) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := d.products[id]
	if !ok {
		return nil, models.NewNotFoundError("product", id)
	}
	return &p, nil
}

// LockProduct needs no extra locking: the whole transaction is exclusive
func (d *memData) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	return d.GetProduct(ctx, id)
}

func (d *memData) SetProductStock(_ context.Context, id int64, qty int) error {
	p, ok := d.products[id]
	if !ok {
		return models.NewNotFoundError("product", id)
	}
	if qty < 0 {
		return fmt.Errorf("stock_qty check violated for product %d: %d", id, qty)
	}
	p.StockQty = qty
	p.UpdatedAt = d.now()
	d.products[id] = p
	return nil
}

func (d *memData) MovementExists(_ context.Context, kind models.MovementKind, reference string) (bool, error) {
	for _, m := range d.movements {
		if m.Kind == kind && m.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (d *memData) InsertStockMovement(ctx context.Context, m *models.StockMovement) error {
	exists, _ := d.MovementExists(ctx, m.Kind, m.Reference)
	if exists {
		return fmt.Errorf("%w: stock_movements_kind_reference_key", ErrDuplicateKey)
	}
	m.ID = d.nextID()
	m.CreatedAt = d.now()
	d.movements = append(d.movements, *m)
	return nil
}

func (d *memData) ListStockMovements(_ context.Context, productID int64) ([]models.StockMovement, error) {
	out := []models.StockMovement{}
	for _, m := range d.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *memData) CreateProduct(_ context.Context, p *models.Product) error {
	p.ID = d.nextID()
	p.CreatedAt = d.now()
	p.UpdatedAt = p.CreatedAt
	d.products[p.ID] = *p
	return nil
}

func (d *memData) UpdateProductPrice(_ context.Context, id int64, price decimal.Decimal) error {
	p, ok := d.products[id]
	if !ok {
		return models.NewNotFoundError("product", id)
	}
	p.SellingPrice = price
	p.UpdatedAt = d.now()
	d.products[id] = p
	return nil
}

func (d *memData) DeleteProduct(_ context.Context, id int64) error {
	if _, ok := d.products[id]; !ok {
		return models.NewNotFoundError("product", id)
	}
	for _, l := range d.saleLines {
		if l.ProductID == id {
			return models.ErrProductReferenced
		}
	}
	for _, l := range d.posLines {
		if l.ProductID == id {
			return models.ErrProductReferenced
		}
	}
	for _, r := range d.deliveries {
		if r.ProductID == id {
			return models.ErrProductReferenced
		}
	}
	for _, m := range d.movements {
		if m.ProductID == id {
			return models.ErrProductReferenced
		}
	}
	delete(d.products, id)
	return nil
}

func (d *memData) CreateDelivery(_ context.Context, r *models.DeliveryRecord) error {
	if _, ok := d.products[r.ProductID]; !ok {
		return models.NewNotFoundError("product", r.ProductID)
	}
	r.ID = d.nextID()
	r.DeliveredAt = d.now()
	d.deliveries = append(d.deliveries, *r)
	return nil
}

func (d *memData) ListDeliveries(_ context.Context, productID int64) ([]models.DeliveryRecord, error) {
	out := []models.DeliveryRecord{}
	for i := len(d.deliveries) - 1; i >= 0; i-- {
		if d.deliveries[i].ProductID == productID {
			out = append(out, d.deliveries[i])
		}
	}
	return out, nil
}

func (d *memData) CreateSale(_ context.Context, sale *models.Sale) error {
	sale.ID = d.nextID()
	sale.CreatedAt = d.now()
	sale.UpdatedAt = sale.CreatedAt
	d.sales[sale.ID] = *sale
	return nil
}

func (d *memData) GetSale(_ context.Context, id int64) (*models.Sale, error) {
	sale, ok := d.sales[id]
	if !ok {
		return nil, models.NewNotFoundError("sale", id)
	}
	return &sale, nil
}

func (d *memData) LockSale(ctx context.Context, id int64) (*models.Sale, error) {
	return d.GetSale(ctx, id)
}

func (d *memData) UpdateSaleStatus(_ context.Context, id int64, status models.SaleStatus) error {
	sale, ok := d.sales[id]
	if !ok {
		return models.NewNotFoundError("sale", id)
	}
	sale.Status = status
	sale.UpdatedAt = d.now()
	d.sales[id] = sale
	return nil
}

func (d *memData) UpdateSaleTotal(_ context.Context, id int64, total decimal.Decimal) error {
	sale, ok := d.sales[id]
	if !ok {
		return models.NewNotFoundError("sale", id)
	}
	sale.TotalAmount = total
	sale.UpdatedAt = d.now()
	d.sales[id] = sale
	return nil
}

func (d *memData) DeleteSale(_ context.Context, id int64) error {
	if _, ok := d.sales[id]; !ok {
		return models.NewNotFoundError("sale", id)
	}
	for _, r := range d.discrepancies {
		if r.SaleID == id {
			return fmt.Errorf("sale %d is referenced by stock discrepancies", id)
		}
	}
	for lineID, l := range d.saleLines {
		if l.SaleID == id {
			delete(d.saleLines, lineID)
		}
	}
	for paymentID, p := range d.payments {
		if p.SaleID == id {
			delete(d.payments, paymentID)
		}
	}
	delete(d.sales, id)
	return nil
}

func (d *memData) ListExpiredPendingSales(_ context.Context, createdBefore time.Time, limit int) ([]models.Sale, error) {
	out := []models.Sale{}
	for _, s := range d.sales {
		if s.Status == models.SaleStatusPending && s.CreatedAt.Before(createdBefore) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *memData) CreateSaleLine(_ context.Context, line *models.SaleLine) error {
	if _, ok := d.sales[line.SaleID]; !ok {
		return models.NewNotFoundError("sale", line.SaleID)
	}
	if _, ok := d.products[line.ProductID]; !ok {
		return models.NewNotFoundError("product", line.ProductID)
	}
	line.ID = d.nextID()
	d.saleLines[line.ID] = *line
	return nil
}

func (d *memData) GetSaleLine(_ context.Context, saleID, lineID int64) (*models.SaleLine, error) {
	line, ok := d.saleLines[lineID]
	if !ok || line.SaleID != saleID {
		return nil, models.NewNotFoundError("sale line", lineID)
	}
	return &line, nil
}

func (d *memData) UpdateSaleLine(_ context.Context, line *models.SaleLine) error {
	existing, ok := d.saleLines[line.ID]
	if !ok || existing.SaleID != line.SaleID {
		return models.NewNotFoundError("sale line", line.ID)
	}
	existing.Quantity = line.Quantity
	existing.LineTotal = line.LineTotal
	d.saleLines[line.ID] = existing
	return nil
}

func (d *memData) DeleteSaleLine(_ context.Context, saleID, lineID int64) error {
	line, ok := d.saleLines[lineID]
	if !ok || line.SaleID != saleID {
		return models.NewNotFoundError("sale line", lineID)
	}
	delete(d.saleLines, lineID)
	return nil
}

func (d *memData) ListSaleLines(_ context.Context, saleID int64) ([]models.SaleLine, error) {
	out := []models.SaleLine{}
	for _, l := range d.saleLines {
		if l.SaleID == saleID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memData) CreatePOSSale(_ context.Context, sale *models.POSSale) error {
	if sale.IdempotencyKey != nil {
		for _, existing := range d.posSales {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *sale.IdempotencyKey {
				return fmt.Errorf("%w: pos_sales_idempotency_key_key", ErrDuplicateKey)
			}
		}
	}
	sale.ID = d.nextID()
	sale.CreatedAt = d.now()
	d.posSales[sale.ID] = *sale
	return nil
}

func (d *memData) GetPOSSale(_ context.Context, id int64) (*models.POSSale, error) {
	sale, ok := d.posSales[id]
	if !ok {
		return nil, models.NewNotFoundError("pos sale", id)
	}
	return &sale, nil
}

func (d *memData) GetPOSSaleByIdempotencyKey(_ context.Context, key string) (*models.POSSale, error) {
	for _, sale := range d.posSales {
		if sale.IdempotencyKey != nil && *sale.IdempotencyKey == key {
			found := sale
			return &found, nil
		}
	}
	return nil, nil
}

func (d *memData) CreatePOSLine(_ context.Context, line *models.POSLine) error {
	if _, ok := d.posSales[line.POSSaleID]; !ok {
		return models.NewNotFoundError("pos sale", line.POSSaleID)
	}
	if _, ok := d.products[line.ProductID]; !ok {
		return models.NewNotFoundError("product", line.ProductID)
	}
	line.ID = d.nextID()
	d.posLines[line.ID] = *line
	return nil
}

func (d *memData) UpdatePOSSaleTotal(_ context.Context, id int64, total decimal.Decimal) error {
	sale, ok := d.posSales[id]
	if !ok {
		return models.NewNotFoundError("pos sale", id)
	}
	sale.TotalAmount = total
	d.posSales[id] = sale
	return nil
}

func (d *memData) ListPOSLines(_ context.Context, posSaleID int64) ([]models.POSLine, error) {
	out := []models.POSLine{}
	for _, l := range d.posLines {
		if l.POSSaleID == posSaleID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memData) CreatePayment(_ context.Context, p *models.Payment) error {
	for _, existing := range d.payments {
		if existing.ExternalReferenceID == p.ExternalReferenceID {
			return fmt.Errorf("%w: payments_external_reference_id_key", ErrDuplicateKey)
		}
		if existing.SaleID == p.SaleID {
			return fmt.Errorf("%w: payments_sale_id_key", ErrDuplicateKey)
		}
	}
	if _, ok := d.sales[p.SaleID]; !ok {
		return models.NewNotFoundError("sale", p.SaleID)
	}
	p.ID = d.nextID()
	p.CreatedAt = d.now()
	p.UpdatedAt = p.CreatedAt
	d.payments[p.ID] = *p
	return nil
}

func (d *memData) GetPaymentBySaleID(_ context.Context, saleID int64) (*models.Payment, error) {
	for _, p := range d.payments {
		if p.SaleID == saleID {
			found := p
			return &found, nil
		}
	}
	return nil, models.NewNotFoundError("payment for sale", saleID)
}

func (d *memData) LockPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	for _, p := range d.payments {
		if p.ExternalReferenceID == reference {
			found := p
			return &found, nil
		}
	}
	return nil, models.NewNotFoundError("payment", reference)
}

func (d *memData) UpdatePaymentStatus(_ context.Context, id int64, status models.PaymentStatus, reason string) error {
	p, ok := d.payments[id]
	if !ok {
		return models.NewNotFoundError("payment", id)
	}
	p.Status = status
	p.FailureReason = reason
	p.UpdatedAt = d.now()
	d.payments[id] = p
	return nil
}

func (d *memData) CreateDiscrepancy(_ context.Context, r *models.StockDiscrepancy) error {
	r.ID = d.nextID()
	r.CreatedAt = d.now()
	d.discrepancies = append(d.discrepancies, *r)
	return nil
}

func (d *memData) ListDiscrepancies(_ context.Context, limit int) ([]models.StockDiscrepancy, error) {
	out := []models.StockDiscrepancy{}
	for i := len(d.discrepancies) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, d.discrepancies[i])
	}
	return out, nil
}
