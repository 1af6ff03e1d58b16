package discount

import "github.com/shopspring/decimal"

// CartTotals is the explicit input to Assemble. A single struct keeps call
// sites from swapping two decimal arguments of the same type.
type CartTotals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	// Tax defaults to zero; the field exists for portability.
	Tax decimal.Decimal

	PromotionDiscount decimal.Decimal
	PointsDiscount    decimal.Decimal
}

// Assemble combines the totals into a final order amount:
//
//	total = max(0, subtotal + shipping + tax - promotion - points)
//
// The non-negativity clamp is applied exactly once, at the end. Clamping
// after each subtraction would mask a discount that drove the total negative
// and under-credit the customer on a partial clamp.
func Assemble(t CartTotals) decimal.Decimal {
	total := t.Subtotal.
		Add(t.Shipping).
		Add(t.Tax).
		Sub(t.PromotionDiscount).
		Sub(t.PointsDiscount)

	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}
