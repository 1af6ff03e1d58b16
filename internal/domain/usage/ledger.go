// Package usage defines the durable promotion-usage ledger: the audit trail
// of promotion consumption and the source of truth for usage limits.
package usage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrQuotaRace is returned by Commit when the promotion's global usage limit
// was exhausted between apply-time validation and order confirmation. It is
// the one rejection that can fail an order at the last moment, so callers
// must surface it with an explicit message rather than a generic error.
var ErrQuotaRace = errors.New("promotion quota exhausted at confirmation")

// Entry is one durable usage record. Entries are keyed by
// (OrderID, PromotionID); a second commit with the same key is a no-op.
type Entry struct {
	OrderID        string
	PromotionID    string
	UserID         string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// Ledger tracks promotion consumption per order and per user.
//
// Commit must perform the usage-limit check and the counter increment as one
// atomic conditional update. A separate read-then-write lets two concurrent
// checkouts both slip past the limit.
type Ledger interface {
	// Commit records a redemption and increments the promotion's used
	// counter, rejecting with ErrQuotaRace when the global limit is already
	// spent. Idempotent per (OrderID, PromotionID).
	Commit(ctx context.Context, e Entry) error
	// Reverse compensates a committed entry, decrementing the counter.
	// No-op when no matching entry exists.
	Reverse(ctx context.Context, orderID, promotionID string) error
	// CountForUser returns how many times the user has redeemed the
	// promotion across confirmed orders.
	CountForUser(ctx context.Context, userID, promotionID string) (int, error)
	// EntriesForOrder returns all entries committed for an order.
	EntriesForOrder(ctx context.Context, orderID string) ([]Entry, error)
}
