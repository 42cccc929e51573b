package service

import (
	"context"
	"errors"
	"testing"

	"retail-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDeliveryCreditsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "9.99", 10)

	resp, err := f.deliveries.RecordDelivery(ctx, &RecordDeliveryRequest{
		ProductID:        p.ID,
		QuantityBought:   5,
		CostPricePerUnit: dec("2.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 15, resp.StockQty)
	assert.True(t, resp.Delivery.TotalCost.Equal(dec("10.00")))
	assert.Equal(t, 15, f.stock(t, p.ID))

	deliveries, err := f.deliveries.ListDeliveries(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)

	require.Len(t, f.publisher.deliveries, 1)
	assert.Equal(t, 15, f.publisher.deliveries[0].StockQty)
}

func TestRecordDeliveryValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "1.00", 0)

	tests := []struct {
		name  string
		req   RecordDeliveryRequest
		field string
	}{
		{"zero quantity", RecordDeliveryRequest{ProductID: p.ID, QuantityBought: 0, CostPricePerUnit: dec("1")}, "quantity_bought"},
		{"negative cost", RecordDeliveryRequest{ProductID: p.ID, QuantityBought: 1, CostPricePerUnit: dec("-1")}, "cost_price_per_unit"},
		{"sub-cent cost", RecordDeliveryRequest{ProductID: p.ID, QuantityBought: 3, CostPricePerUnit: dec("0.333")}, "cost_price_per_unit"},
		{"missing product", RecordDeliveryRequest{QuantityBought: 1}, "product_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.deliveries.RecordDelivery(ctx, &tt.req)
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestRecordDeliveryUnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.deliveries.RecordDelivery(context.Background(), &RecordDeliveryRequest{
		ProductID: 42, QuantityBought: 3, CostPricePerUnit: dec("1"),
	})
	assert.True(t, models.IsNotFound(err))
	assert.Empty(t, f.publisher.deliveries)
}

func TestCatalogCreateProductStartsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.catalog.CreateProduct(ctx, &CreateProductRequest{
		BrandName: "Acme", ProductName: "Tea 500g", SellingPrice: dec("4.20"),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, product.StockQty)
	assert.True(t, product.IsActive)

	_, err = f.catalog.CreateProduct(ctx, &CreateProductRequest{
		BrandName: "Acme", ProductName: "Free", SellingPrice: dec("0"),
	})
	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "selling_price", ve.Field)
}

func TestCatalogUpdateSellingPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "5.00", 0)

	updated, err := f.catalog.UpdateSellingPrice(ctx, p.ID, dec("6.50"))
	require.NoError(t, err)
	assert.True(t, updated.SellingPrice.Equal(dec("6.50")))

	_, err = f.catalog.UpdateSellingPrice(ctx, 999, dec("1"))
	assert.True(t, models.IsNotFound(err))
}

func TestCatalogRejectsSubCentPrices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "5.00", 0)

	var ve *models.ValidationError
	_, err := f.catalog.CreateProduct(ctx, &CreateProductRequest{
		BrandName: "Acme", ProductName: "Salt 1kg", SellingPrice: dec("1.005"),
	})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "selling_price", ve.Field)

	_, err = f.catalog.UpdateSellingPrice(ctx, p.ID, dec("4.999"))
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "selling_price", ve.Field)

	// trailing zeros are still whole cents
	updated, err := f.catalog.UpdateSellingPrice(ctx, p.ID, dec("4.990"))
	require.NoError(t, err)
	assert.True(t, updated.SellingPrice.Equal(dec("4.99")))
}

func TestCatalogDeleteReferencedProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sold := f.product(t, "2.00", 5)
	spare := f.product(t, "2.00", 0)

	_, err := f.pos.CreatePOSSale(ctx, &CreatePOSSaleRequest{
		ServedBy: "alice",
		Items:    []LineItemRequest{{ProductID: sold.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.catalog.DeleteProduct(ctx, sold.ID), models.ErrProductReferenced)
	assert.NoError(t, f.catalog.DeleteProduct(ctx, spare.ID))
	_, err = f.catalog.GetProduct(ctx, spare.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestCatalogGetStockHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "3.00", 0)

	_, err := f.deliveries.RecordDelivery(ctx, &RecordDeliveryRequest{ProductID: p.ID, QuantityBought: 8, CostPricePerUnit: dec("1.50")})
	require.NoError(t, err)
	_, err = f.pos.CreatePOSSale(ctx, &CreatePOSSaleRequest{
		ServedBy: "bob",
		Items:    []LineItemRequest{{ProductID: p.ID, Quantity: 3}},
	})
	require.NoError(t, err)

	view, err := f.catalog.GetStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, view.StockQty)
	require.Len(t, view.Movements, 2)

	sum := 0
	for _, m := range view.Movements {
		sum += m.Delta
	}
	assert.Equal(t, view.StockQty, sum)
}
