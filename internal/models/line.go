package models

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places every stored amount carries
const MoneyScale = 2

// IsMoneyAmount reports whether v fits MoneyScale without rounding
func IsMoneyAmount(v decimal.Decimal) bool {
	return v.Equal(v.Round(MoneyScale))
}

// LineTotal is quantity x unit price, exact
func LineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// NewSaleLine builds a sale line with its price locked to price
func NewSaleLine(saleID, productID int64, quantity int, price decimal.Decimal) *SaleLine {
	return &SaleLine{
		SaleID:      saleID,
		ProductID:   productID,
		Quantity:    quantity,
		PriceAtSale: price,
		LineTotal:   LineTotal(quantity, price),
	}
}

// NewPOSLine builds a POS line
func NewPOSLine(posSaleID, productID int64, quantity int, unitPrice decimal.Decimal) *POSLine {
	return &POSLine{
		POSSaleID: posSaleID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: LineTotal(quantity, unitPrice),
	}
}

// SumSaleLines returns the exact sum of line totals
func SumSaleLines(lines []SaleLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

// SumPOSLines returns the exact sum of line totals
func SumPOSLines(lines []POSLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return total
}

// DeliveryTotalCost is quantity bought x cost per unit
func DeliveryTotalCost(quantity int, costPerUnit decimal.Decimal) decimal.Decimal {
	return LineTotal(quantity, costPerUnit)
}
