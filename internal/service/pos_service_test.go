package service

import (
	"context"
	"errors"
	"testing"

	"retail-service/internal/models"
	"retail-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePOSSaleDebitsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "12.00", 15)
	price := dec("9.99")

	sale, err := f.pos.CreatePOSSale(ctx, &CreatePOSSaleRequest{
		ServedBy: "alice",
		Items:    []LineItemRequest{{ProductID: p.ID, Quantity: 3, UnitPrice: &price}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusCompleted, sale.Status)
	assert.Equal(t, models.PaymentMethodCash, sale.PaymentMethod)
	require.Len(t, sale.Items, 1)
	assert.True(t, sale.Items[0].LineTotal.Equal(dec("29.97")))
	assert.True(t, sale.TotalAmount.Equal(dec("29.97")))
	assert.Equal(t, 12, f.stock(t, p.ID))

	require.Len(t, f.publisher.posSales, 1)
	assert.Equal(t, sale.ID, f.publisher.posSales[0].POSSaleID)
}

func TestCreatePOSSaleDefaultsToSellingPrice(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "4.25", 10)

	sale, err := f.pos.CreatePOSSale(context.Background(), &CreatePOSSaleRequest{
		ServedBy:      "alice",
		PaymentMethod: models.PaymentMethodCard,
		Items:         []LineItemRequest{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, sale.TotalAmount.Equal(dec("8.50")))
}

func TestCreatePOSSaleInsufficientStockPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "9.99", 12)

	_, err := f.pos.CreatePOSSale(ctx, &CreatePOSSaleRequest{
		ServedBy:       "alice",
		IdempotencyKey: "till-1-0001",
		Items:          []LineItemRequest{{ProductID: p.ID, Quantity: 100}},
	})
	var insufficient *models.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 12, insufficient.Available)

	assert.Equal(t, 12, f.stock(t, p.ID))
	persisted, err := f.repo.GetPOSSaleByIdempotencyKey(ctx, "till-1-0001")
	require.NoError(t, err)
	assert.Nil(t, persisted)
	assert.Empty(t, f.publisher.posSales)
}

func TestCreatePOSSaleIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plenty := f.product(t, "1.00", 50)
	scarce := f.product(t, "1.00", 1)

	_, err := f.pos.CreatePOSSale(ctx, &CreatePOSSaleRequest{
		ServedBy: "alice",
		Items: []LineItemRequest{
			{ProductID: plenty.ID, Quantity: 10},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	require.Error(t, err)
	assert.Equal(t, 50, f.stock(t, plenty.ID))
	assert.Equal(t, 1, f.stock(t, scarce.ID))

	movements, err := f.repo.ListStockMovements(ctx, plenty.ID)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestCreatePOSSaleRepeatedProduct(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "2.00", 5)

	sale, err := f.pos.CreatePOSSale(context.Background(), &CreatePOSSaleRequest{
		ServedBy: "alice",
		Items: []LineItemRequest{
			{ProductID: p.ID, Quantity: 2},
			{ProductID: p.ID, Quantity: 3},
		},
	})
	require.NoError(t, err)
	assert.Len(t, sale.Items, 2)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestCreatePOSSaleValidation(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "2.00", 5)
	negative := dec("-1")
	subCent := dec("1.005")

	inactive := &models.Product{BrandName: "Acme", ProductName: "Retired", SellingPrice: dec("2.00"), StockQty: 5}
	require.NoError(t, f.repo.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateProduct(context.Background(), inactive)
	}))

	tests := []struct {
		name  string
		req   CreatePOSSaleRequest
		field string
	}{
		{"missing cashier", CreatePOSSaleRequest{Items: []LineItemRequest{{ProductID: p.ID, Quantity: 1}}}, "served_by"},
		{"bad method", CreatePOSSaleRequest{ServedBy: "a", PaymentMethod: "cheque", Items: []LineItemRequest{{ProductID: p.ID, Quantity: 1}}}, "payment_method"},
		{"no items", CreatePOSSaleRequest{ServedBy: "a"}, "items"},
		{"zero quantity", CreatePOSSaleRequest{ServedBy: "a", Items: []LineItemRequest{{ProductID: p.ID}}}, "quantity"},
		{"negative price", CreatePOSSaleRequest{ServedBy: "a", Items: []LineItemRequest{{ProductID: p.ID, Quantity: 1, UnitPrice: &negative}}}, "unit_price"},
		{"sub-cent price", CreatePOSSaleRequest{ServedBy: "a", Items: []LineItemRequest{{ProductID: p.ID, Quantity: 3, UnitPrice: &subCent}}}, "unit_price"},
		{"inactive product", CreatePOSSaleRequest{ServedBy: "a", Items: []LineItemRequest{{ProductID: inactive.ID, Quantity: 1}}}, "product_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pos.CreatePOSSale(context.Background(), &tt.req)
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Equal(t, 5, f.stock(t, p.ID))
	assert.Equal(t, 5, f.stock(t, inactive.ID))
}

func TestCreatePOSSaleIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "3.00", 10)
	req := func() *CreatePOSSaleRequest {
		return &CreatePOSSaleRequest{
			ServedBy:       "alice",
			IdempotencyKey: "till-2-0042",
			Items:          []LineItemRequest{{ProductID: p.ID, Quantity: 4}},
		}
	}

	first, err := f.pos.CreatePOSSale(ctx, req())
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.pos.CreatePOSSale(ctx, req())
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Items, 1)

	assert.Equal(t, 6, f.stock(t, p.ID))
	assert.Len(t, f.publisher.posSales, 1)
	assert.Equal(t, 1, f.logs.FilterMessage("Duplicate POS sale request detected").Len())
}

func TestCreatePOSSaleReplayWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.pos.cache = nil
	ctx := context.Background()
	p := f.product(t, "3.00", 10)

	req := CreatePOSSaleRequest{ServedBy: "alice", IdempotencyKey: "k-1", Items: []LineItemRequest{{ProductID: p.ID, Quantity: 1}}}
	first, err := f.pos.CreatePOSSale(ctx, &req)
	require.NoError(t, err)

	again := req
	second, err := f.pos.CreatePOSSale(ctx, &again)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 9, f.stock(t, p.ID))
}

func TestCreatePOSSaleKeyInProgress(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "3.00", 10)
	f.cache.locks["pos_sale:till-3-0001"] = true

	_, err := f.pos.CreatePOSSale(context.Background(), &CreatePOSSaleRequest{
		ServedBy:       "alice",
		IdempotencyKey: "till-3-0001",
		Items:          []LineItemRequest{{ProductID: p.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
	assert.Equal(t, 10, f.stock(t, p.ID))
}

func TestGetPOSSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "3.00", 10)

	created, err := f.pos.CreatePOSSale(ctx, &CreatePOSSaleRequest{
		ServedBy: "alice",
		Items:    []LineItemRequest{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	got, err := f.pos.GetPOSSale(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(dec("6")))
	assert.Len(t, got.Items, 1)

	_, err = f.pos.GetPOSSale(ctx, 12345)
	assert.True(t, models.IsNotFound(err))
}
