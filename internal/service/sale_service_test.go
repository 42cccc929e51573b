package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"retail-service/internal/models"
	"retail-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// onlineSale creates a pending sale of two lines totalling 50.00
func onlineSale(t *testing.T, f *fixture) (*SaleDetail, *models.Product, *models.Product) {
	t.Helper()
	a := f.product(t, "20.00", 10)
	b := f.product(t, "15.00", 10)

	sale, err := f.sales.CreateSale(context.Background(), &CreateSaleRequest{
		ShippingAddress: "Moi Avenue 12, Nairobi",
		PhoneNumber:     "254712345678",
		Items: []LineItemRequest{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	return sale, a, b
}

func TestCreateSaleInitiatesPayment(t *testing.T) {
	f := newFixture(t)
	sale, a, b := onlineSale(t, f)

	assert.Equal(t, models.SaleStatusPending, sale.Status)
	assert.True(t, sale.TotalAmount.Equal(dec("50.00")))
	require.NotNil(t, sale.Payment)
	assert.Equal(t, models.PaymentStatusPending, sale.Payment.Status)
	assert.True(t, sale.Payment.Amount.Equal(dec("50")))
	assert.Equal(t, "KES", sale.Payment.Currency)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, "254712345678", req.PhoneNumber)
	assert.Equal(t, "http://localhost/webhook", req.CallbackURL)
	assert.Contains(t, req.AccountReference, "SALE_")

	// no stock moves until payment is confirmed
	assert.Equal(t, 10, f.stock(t, a.ID))
	assert.Equal(t, 10, f.stock(t, b.ID))
	assert.Len(t, f.publisher.created, 1)
}

func TestCreateSaleGatewayFailureRemovesSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "5.00", 3)
	f.gateway.err = errors.New("connection refused")

	_, err := f.sales.CreateSale(ctx, &CreateSaleRequest{
		ShippingAddress: "x",
		PhoneNumber:     "254700000000",
		Items:           []LineItemRequest{{ProductID: p.ID, Quantity: 1}},
	})
	var gwErr *models.GatewayError
	require.True(t, errors.As(err, &gwErr))

	pending, err := f.repo.ListExpiredPendingSales(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, f.publisher.created)
}

func TestCreateSaleValidation(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "5.00", 3)
	items := []LineItemRequest{{ProductID: p.ID, Quantity: 1}}

	tests := []struct {
		name  string
		req   CreateSaleRequest
		field string
	}{
		{"missing address", CreateSaleRequest{PhoneNumber: "1", Items: items}, "shipping_address"},
		{"missing phone", CreateSaleRequest{ShippingAddress: "x", Items: items}, "phone_number"},
		{"no items", CreateSaleRequest{ShippingAddress: "x", PhoneNumber: "1"}, "items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sales.CreateSale(context.Background(), &tt.req)
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Empty(t, f.gateway.requests)
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.sales.CreateSale(context.Background(), &CreateSaleRequest{
		ShippingAddress: "x",
		PhoneNumber:     "1",
		Items:           []LineItemRequest{{ProductID: 77, Quantity: 1}},
	})
	assert.True(t, models.IsNotFound(err))
	assert.Empty(t, f.gateway.requests)
}

func TestSaleLinePriceIsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, a, _ := onlineSale(t, f)

	_, err := f.catalog.UpdateSellingPrice(ctx, a.ID, dec("25.00"))
	require.NoError(t, err)

	got, err := f.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, got.Items[0].PriceAtSale.Equal(dec("20.00")))
	assert.True(t, got.TotalAmount.Equal(dec("50.00")))

	got, err = f.sales.AddSaleLine(ctx, sale.ID, LineItemRequest{ProductID: a.ID, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, got.Items, 3)
	assert.True(t, got.Items[2].PriceAtSale.Equal(dec("25.00")))
	assert.True(t, got.TotalAmount.Equal(dec("75.00")))
}

func TestSaleTotalFollowsLineEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, _, b := onlineSale(t, f)
	lineB := sale.Items[1]

	got, err := f.sales.UpdateSaleLineQuantity(ctx, sale.ID, lineB.ID, 4)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(dec("80.00")))
	assert.True(t, got.TotalAmount.Equal(models.SumSaleLines(got.Items)))

	got, err = f.sales.AddSaleLine(ctx, sale.ID, LineItemRequest{ProductID: b.ID, Quantity: 1})
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(dec("95.00")))

	got, err = f.sales.RemoveSaleLine(ctx, sale.ID, lineB.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.True(t, got.TotalAmount.Equal(dec("35.00")))
	assert.True(t, got.TotalAmount.Equal(models.SumSaleLines(got.Items)))

	_, err = f.sales.RemoveSaleLine(ctx, sale.ID, lineB.ID)
	assert.True(t, models.IsNotFound(err))

	_, err = f.sales.UpdateSaleLineQuantity(ctx, sale.ID, lineB.ID, 0)
	var ve *models.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestSettledSaleRejectsEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, a, _ := onlineSale(t, f)

	_, err := f.reconciler.HandleNotification(ctx, Notification{ExternalReferenceID: sale.Payment.ExternalReferenceID})
	require.NoError(t, err)

	var stateErr *models.StateError
	_, err = f.sales.AddSaleLine(ctx, sale.ID, LineItemRequest{ProductID: a.ID, Quantity: 1})
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "completed", stateErr.Status)

	_, err = f.sales.UpdateSaleLineQuantity(ctx, sale.ID, sale.Items[0].ID, 9)
	assert.True(t, errors.As(err, &stateErr))

	_, err = f.sales.RemoveSaleLine(ctx, sale.ID, sale.Items[0].ID)
	assert.True(t, errors.As(err, &stateErr))

	err = f.sales.DeleteSale(ctx, sale.ID)
	assert.True(t, errors.As(err, &stateErr))
}

func TestDeletePendingSaleKeepsPaymentForLateSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale, a, b := onlineSale(t, f)

	require.NoError(t, f.sales.DeleteSale(ctx, sale.ID))

	got, err := f.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusCancelled, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, models.PaymentStatusFailed, got.Payment.Status)
	assert.Equal(t, models.FailureReasonDeleted, got.Payment.FailureReason)
	require.Len(t, f.publisher.cancelled, 1)
	assert.Equal(t, models.FailureReasonDeleted, f.publisher.cancelled[0].Reason)

	var stateErr *models.StateError
	assert.True(t, errors.As(f.sales.DeleteSale(ctx, sale.ID), &stateErr))

	// the payer approves the push after the sale was withdrawn
	n := Notification{ExternalReferenceID: sale.Payment.ExternalReferenceID}
	result, err := f.reconciler.HandleNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, result.Outcome)
	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, models.DiscrepancyLatePayment, result.Discrepancies[0].Reason)
	assert.Equal(t, sale.ID, result.Discrepancies[0].SaleID)

	result, err = f.reconciler.HandleNotification(ctx, n)
	require.NoError(t, err)
	assert.Empty(t, result.Discrepancies)

	listed, err := f.reconciler.ListDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	got, err = f.sales.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FailureReasonDeletedPaid, got.Payment.FailureReason)
	assert.Equal(t, 10, f.stock(t, a.ID))
	assert.Equal(t, 10, f.stock(t, b.ID))
}

func TestDeleteSaleWithoutPaymentRemovesIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "5.00", 3)

	sale := &models.Sale{Status: models.SaleStatusPending, ShippingAddress: "x", PhoneNumber: "254700000000"}
	require.NoError(t, f.repo.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}
		return tx.CreateSaleLine(ctx, models.NewSaleLine(sale.ID, p.ID, 1, p.SellingPrice))
	}))

	require.NoError(t, f.sales.DeleteSale(ctx, sale.ID))

	_, err := f.sales.GetSale(ctx, sale.ID)
	assert.True(t, models.IsNotFound(err))
	assert.True(t, models.IsNotFound(f.sales.DeleteSale(ctx, sale.ID)))
	assert.Empty(t, f.publisher.cancelled)
}
