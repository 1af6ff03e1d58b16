// Package points models the loyalty-points account: a non-negative balance
// backed by an append-only transaction trail.
package points

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// TransactionType classifies a points transaction. Earned and adjustment add
// to the balance; redeemed and expired subtract from it.
type TransactionType string

const (
	TypeEarned     TransactionType = "earned"
	TypeRedeemed   TransactionType = "redeemed"
	TypeExpired    TransactionType = "expired"
	TypeAdjustment TransactionType = "adjustment"
)

// Signed returns the balance delta of a transaction amount under the type's
// sign convention.
func (t TransactionType) Signed(amount int64) int64 {
	switch t {
	case TypeRedeemed, TypeExpired:
		return -amount
	default:
		return amount
	}
}

// Transaction is one append-only entry in a user's points history.
// Invariant: BalanceAfter == BalanceBefore + Type.Signed(Amount).
type Transaction struct {
	ID            int64
	UserID        string
	Type          TransactionType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	// OrderID links redemptions and their compensating adjustments to an
	// order; empty for earn/expire entries.
	OrderID   string
	CreatedAt time.Time
}

// ErrInsufficientBalance is returned by Redeem when the account cannot cover
// the requested points.
var ErrInsufficientBalance = errors.New("insufficient points balance")

// Ledger is the durable points store. Redeem and Refund are idempotent per
// order ID.
type Ledger interface {
	// Balance returns the current balance; unknown users have balance 0.
	Balance(ctx context.Context, userID string) (int64, error)
	// Redeem atomically spends pts from the user's balance and appends a
	// redeemed transaction referencing orderID. A repeat call for the same
	// orderID is a no-op. Returns ErrInsufficientBalance on overdraw.
	Redeem(ctx context.Context, userID, orderID string, pts int64) error
	// Refund compensates a prior redemption for orderID by appending an
	// adjustment that restores the points. No-op when no redemption exists
	// or when the refund already happened.
	Refund(ctx context.Context, orderID string) error
	// History returns the user's transactions in append order.
	History(ctx context.Context, userID string) ([]Transaction, error)
}
