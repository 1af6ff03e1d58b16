// Package checkout owns the session-scoped applied-promotion state and the
// transitions on it: apply, remove, revalidate, and the conversion of session
// slots into durable ledger writes when an order completes.
package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/promotion"
)

// PromotionSlot records the one coupon-or-voucher currently applied to a
// session, with the last computed discount so staleness can be detected.
type PromotionSlot struct {
	PromotionID     string           `json:"promotion_id"`
	Code            string           `json:"code"`
	Source          promotion.Source `json:"source"`
	Amount          decimal.Decimal  `json:"amount"`
	FreeShipping    bool             `json:"free_shipping"`
	CappedByMaximum bool             `json:"capped_by_maximum"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// PointsSlot records the points redemption currently applied to a session.
type PointsSlot struct {
	Requested  int64           `json:"requested"`
	Consumed   int64           `json:"consumed"`
	Amount     decimal.Decimal `json:"amount"`
	Clamped    bool            `json:"clamped"`
	ComputedAt time.Time       `json:"computed_at"`
}

// Snapshot is the ephemeral per-session applied-promotion state. At most one
// promotion slot (coupon and voucher are mutually exclusive; applying one
// replaces the other) plus, independently, at most one points slot. Never
// persisted beyond the checkout session.
type Snapshot struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Promotion *PromotionSlot `json:"promotion,omitempty"`
	Points    *PointsSlot    `json:"points,omitempty"`
}

// Empty reports whether nothing is applied.
func (s *Snapshot) Empty() bool {
	return s == nil || (s.Promotion == nil && s.Points == nil)
}

// PromotionDiscount returns the promotion slot's amount, or zero.
func (s *Snapshot) PromotionDiscount() decimal.Decimal {
	if s == nil || s.Promotion == nil {
		return decimal.Zero
	}
	return s.Promotion.Amount
}

// PointsDiscount returns the points slot's amount, or zero.
func (s *Snapshot) PointsDiscount() decimal.Decimal {
	if s == nil || s.Points == nil {
		return decimal.Zero
	}
	return s.Points.Amount
}

// FreeShipping reports whether the applied promotion waives shipping.
func (s *Snapshot) FreeShipping() bool {
	return s != nil && s.Promotion != nil && s.Promotion.FreeShipping
}
