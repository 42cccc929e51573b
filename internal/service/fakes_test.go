package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"retail-service/internal/gateway"
	"retail-service/internal/ledger"
	"retail-service/internal/models"
	"retail-service/internal/store"
	"retail-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	mu            sync.Mutex
	deliveries    []*models.DeliveryRecordedEvent
	posSales      []*models.POSSaleCreatedEvent
	created       []*models.SaleCreatedEvent
	completed     []*models.SaleCompletedEvent
	cancelled     []*models.SaleCancelledEvent
	discrepancies []*models.StockDiscrepancyEvent
}

func (p *fakePublisher) PublishDeliveryRecorded(_ context.Context, e *models.DeliveryRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliveries = append(p.deliveries, e)
	return nil
}

func (p *fakePublisher) PublishPOSSaleCreated(_ context.Context, e *models.POSSaleCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posSales = append(p.posSales, e)
	return nil
}

func (p *fakePublisher) PublishSaleCreated(_ context.Context, e *models.SaleCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishSaleCompleted(_ context.Context, e *models.SaleCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *fakePublisher) PublishSaleCancelled(_ context.Context, e *models.SaleCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *fakePublisher) PublishStockDiscrepancy(_ context.Context, e *models.StockDiscrepancyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discrepancies = append(p.discrepancies, e)
	return nil
}

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []gateway.PaymentRequest
}

func (g *fakeGateway) InitiatePayment(_ context.Context, req gateway.PaymentRequest) (*gateway.PaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &gateway.PaymentResponse{ExternalReferenceID: fmt.Sprintf("ws_CO_%d", len(g.requests))}, nil
}

type fakeCache struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{locks: map[string]bool{}, values: map[string]string{}}
}

func (c *fakeCache) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *fakeCache) ReleaseLock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *fakeCache) GetIdempotencyValue(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprint(value)
	return nil
}

type fixture struct {
	repo       *store.MemoryStore
	publisher  *fakePublisher
	gateway    *fakeGateway
	cache      *fakeCache
	logs       *observer.ObservedLogs
	catalog    *CatalogService
	deliveries *DeliveryService
	pos        *POSService
	sales      *SaleService
	reconciler *PaymentReconciler
	sweeper    *PendingSaleSweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	util.SetLogger(zap.New(core))

	repo := store.NewMemoryStore()
	stockLedger := ledger.New()
	f := &fixture{
		repo:      repo,
		publisher: &fakePublisher{},
		gateway:   &fakeGateway{},
		cache:     newFakeCache(),
		logs:      logs,
	}
	f.catalog = NewCatalogService(repo)
	f.deliveries = NewDeliveryService(repo, stockLedger, f.publisher)
	f.pos = NewPOSService(repo, stockLedger, f.cache, f.publisher, time.Hour)
	f.sales = NewSaleService(repo, f.gateway, f.publisher, SaleConfig{CallbackURL: "http://localhost/webhook"})
	f.reconciler = NewPaymentReconciler(repo, stockLedger, f.publisher)
	f.sweeper = NewPendingSaleSweeper(repo, f.publisher, 30*time.Minute)
	return f
}

// product inserts a product directly so tests can start from a known stock level
func (f *fixture) product(t *testing.T, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		BrandName:    "Acme",
		ProductName:  "Item " + price,
		SellingPrice: decimal.RequireFromString(price),
		StockQty:     stock,
		IsActive:     true,
	}
	require.NoError(t, f.repo.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProduct(context.Background(), p)
	}))
	return p
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := f.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQty
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
