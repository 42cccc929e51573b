package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLineTotalIsExact(t *testing.T) {
	total := LineTotal(3, decimal.RequireFromString("9.99"))
	assert.True(t, total.Equal(decimal.RequireFromString("29.97")), "got %s", total)

	line := NewSaleLine(1, 2, 7, decimal.RequireFromString("0.10"))
	assert.True(t, line.LineTotal.Equal(decimal.RequireFromString("0.7")))
	assert.True(t, line.PriceAtSale.Equal(decimal.RequireFromString("0.1")))
}

func TestSumLines(t *testing.T) {
	lines := []SaleLine{
		*NewSaleLine(1, 1, 1, decimal.RequireFromString("0.10")),
		*NewSaleLine(1, 2, 2, decimal.RequireFromString("0.20")),
	}
	assert.True(t, SumSaleLines(lines).Equal(decimal.RequireFromString("0.5")))
	assert.True(t, SumSaleLines(nil).IsZero())

	pos := []POSLine{
		*NewPOSLine(1, 1, 3, decimal.RequireFromString("9.99")),
		*NewPOSLine(1, 2, 1, decimal.RequireFromString("50")),
	}
	assert.True(t, SumPOSLines(pos).Equal(decimal.RequireFromString("79.97")))
}

func TestDeliveryTotalCost(t *testing.T) {
	cost := DeliveryTotalCost(12, decimal.RequireFromString("2.50"))
	assert.True(t, cost.Equal(decimal.NewFromInt(30)))
}

func TestSaleStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SaleStatus
		allowed  bool
	}{
		{SaleStatusPending, SaleStatusCompleted, true},
		{SaleStatusPending, SaleStatusCancelled, true},
		{SaleStatusPending, SaleStatusPending, false},
		{SaleStatusCompleted, SaleStatusCancelled, false},
		{SaleStatusCancelled, SaleStatusCompleted, false},
		{SaleStatusCompleted, SaleStatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.False(t, SaleStatusPending.IsTerminal())
	assert.True(t, SaleStatusCancelled.IsTerminal())
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusSucceeded))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusSucceeded.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusSucceeded))
}

func TestPaymentMethodValid(t *testing.T) {
	assert.True(t, PaymentMethodCash.Valid())
	assert.True(t, PaymentMethodMobileMoney.Valid())
	assert.False(t, PaymentMethod("cheque").Valid())
	assert.False(t, PaymentMethod("").Valid())
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "quantity: must be positive", NewValidationError("quantity", "must be positive").Error())
	assert.Equal(t, "product not found: 4", NewNotFoundError("product", int64(4)).Error())

	err := &InsufficientStockError{ProductID: 3, Requested: 5, Available: 2}
	assert.Contains(t, err.Error(), "available=2")
	assert.True(t, IsNotFound(NewNotFoundError("sale", 1)))
	assert.False(t, IsNotFound(err))
}

func TestIsMoneyAmount(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"9.99", true},
		{"10", true},
		{"4.990", true},
		{"1.005", false},
		{"0.001", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMoneyAmount(decimal.RequireFromString(tt.value)))
		})
	}
}
