package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source tags which storefront entity a promotion came from. Coupons and
// vouchers share one rule shape; the tag only matters for messaging and
// reporting.
type Source string

const (
	SourceCoupon  Source = "coupon"
	SourceVoucher Source = "voucher"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage discounts a percentage of the applicable subtotal.
	KindPercentage Kind = "percentage"
	// KindFixedAmount discounts a fixed amount, capped at the applicable subtotal.
	KindFixedAmount Kind = "fixed_amount"
	// KindFreeShipping waives the shipping cost.
	KindFreeShipping Kind = "free_shipping"
)

// Promotion is a redeemable discount rule. The engine treats it as read-only;
// UsedCount only ever changes through the usage ledger.
type Promotion struct {
	ID     string
	Code   string
	Name   string
	Source Source
	Kind   Kind

	// Value is a percent for KindPercentage, a currency amount for
	// KindFixedAmount, and ignored for KindFreeShipping.
	Value decimal.Decimal

	MinimumSubtotal decimal.Decimal
	// MaximumDiscount caps percentage discounts. Zero means no cap.
	MaximumDiscount decimal.Decimal

	// StartsAt/EndsAt bound the validity window; nil means unbounded.
	StartsAt *time.Time
	EndsAt   *time.Time

	// UsageLimit is the global redemption cap; zero means unlimited.
	UsageLimit int
	// PerCustomerLimit caps redemptions per user; zero means unlimited.
	PerCustomerLimit int

	// CategoryIDs/ProductIDs restrict the promotion to matching cart lines.
	// When both are empty the promotion applies to the entire cart.
	CategoryIDs []string
	ProductIDs  []string

	UsedCount int
	Active    bool
}

// Restricted reports whether the promotion is limited to a category or
// product allowlist.
func (p *Promotion) Restricted() bool {
	return len(p.CategoryIDs) > 0 || len(p.ProductIDs) > 0
}

// RemainingQuota returns how many redemptions are left, or -1 when the
// promotion is unlimited.
func (p *Promotion) RemainingQuota() int {
	if p.UsageLimit == 0 {
		return -1
	}
	left := p.UsageLimit - p.UsedCount
	if left < 0 {
		return 0
	}
	return left
}

// NormalizeCode uppercases a user-entered code. Codes are stored uppercase
// and matched case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides promotion lookups. Implementations must not filter on
// the Active flag or the validity window; the catalog surfaces those as
// specific rejection reasons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
}
