// Package discount holds the pure pricing functions of the engine. Nothing
// here performs I/O or mutates shared state, so every function is safe to
// call during revalidation.
package discount

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/promotion"
)

var hundred = decimal.NewFromInt(100)

var (
	// ErrInvalidRequest is returned for a non-positive points request.
	ErrInvalidRequest = errors.New("points requested must be greater than 0")
	// ErrInsufficientPoints is returned when the user has no points to redeem.
	ErrInsufficientPoints = errors.New("insufficient points balance")
)

// Result holds a computed promotion discount.
type Result struct {
	// Amount is the discount in currency units, rounded to 2 decimal places.
	Amount decimal.Decimal
	// FreeShipping instructs the caller to zero the shipping line.
	FreeShipping bool
	// CappedByMaximum reports that a percentage discount hit its cap. Used
	// for UI transparency only.
	CappedByMaximum bool
}

// Compute calculates the discount for a promotion against a cart snapshot.
//
// applicableSubtotal is the sum of line subtotals matching the promotion's
// restriction set (the whole cart subtotal when unrestricted); callers obtain
// it from promotion.ApplicableSubtotal. Regardless of kind, the returned
// amount never exceeds cartSubtotal.
func Compute(p *promotion.Promotion, cartSubtotal, applicableSubtotal, shippingCost decimal.Decimal) (Result, error) {
	var res Result

	switch p.Kind {
	case promotion.KindPercentage:
		amount := applicableSubtotal.Mul(p.Value).Div(hundred)
		if p.MaximumDiscount.IsPositive() && amount.GreaterThan(p.MaximumDiscount) {
			amount = p.MaximumDiscount
			res.CappedByMaximum = true
		}
		res.Amount = amount

	case promotion.KindFixedAmount:
		res.Amount = decimal.Min(p.Value, applicableSubtotal)

	case promotion.KindFreeShipping:
		res.Amount = shippingCost
		res.FreeShipping = true

	default:
		return Result{}, errors.Errorf("unsupported promotion kind: %q", p.Kind)
	}

	// A discount can never exceed the subtotal it discounts.
	res.Amount = decimal.Min(res.Amount, cartSubtotal)
	if res.Amount.IsNegative() {
		res.Amount = decimal.Zero
	}
	res.Amount = res.Amount.Round(2)

	return res, nil
}

// PointsResult holds a computed loyalty-points discount.
type PointsResult struct {
	// Amount is the discount in currency units.
	Amount decimal.Decimal
	// Consumed is how many points the redemption will actually spend.
	Consumed int64
	// Clamped reports that the request exceeded the balance and was reduced.
	Clamped bool
}

// ComputePoints converts a points redemption request into a discount.
// A request above the balance is clamped to the balance rather than rejected;
// Clamped flags the partial redemption so the caller can tell the user.
func ComputePoints(requested, balance int64, rate decimal.Decimal) (PointsResult, error) {
	if requested <= 0 {
		return PointsResult{}, ErrInvalidRequest
	}
	if balance <= 0 {
		return PointsResult{}, ErrInsufficientPoints
	}

	consumed := requested
	clamped := false
	if consumed > balance {
		consumed = balance
		clamped = true
	}

	return PointsResult{
		Amount:   decimal.NewFromInt(consumed).Mul(rate).Round(2),
		Consumed: consumed,
		Clamped:  clamped,
	}, nil
}
