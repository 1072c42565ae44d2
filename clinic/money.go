package clinic

import (
	"github.com/shopspring/decimal"
)

// DefaultTaxRate is the sales tax applied on top of the invoice subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.15")

// Round2 rounds to two fractional digits, half away from zero. Invoice
// amounts are never negative, so this is half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsCents reports whether d has at most two fractional digits.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(Round2(d))
}

// Totals is the computed money block of an invoice.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// LineSubtotal is quantity × unit price.
func LineSubtotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// ComputeTotals sums line subtotals and applies rate.
//
//	subtotal = round2(sum(lines))
//	tax      = round2(subtotal × rate)
//	total    = round2(subtotal + tax)
func ComputeTotals(lines []InvoiceLine, rate decimal.Decimal) Totals {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal)
	}
	subtotal := Round2(sum)
	tax := Round2(subtotal.Mul(rate))
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    Round2(subtotal.Add(tax)),
	}
}
