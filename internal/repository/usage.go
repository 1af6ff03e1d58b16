package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopkit/promo-engine/internal/domain/usage"
)

const (
	insertUsageSQL = `INSERT INTO promotion_usage (order_id, promotion_id, user_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, promotion_id) DO NOTHING`

	// The limit check and the increment are one conditional update. A
	// separate read-then-write would let two concurrent commits both pass
	// the limit.
	consumeQuotaSQL = `UPDATE promotions
		SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	deleteUsageSQL = `DELETE FROM promotion_usage
		WHERE order_id = $1 AND promotion_id = $2`

	releaseQuotaSQL = `UPDATE promotions
		SET used_count = GREATEST(used_count - 1, 0), updated_at = now()
		WHERE id = $1`

	countUsageForUserSQL = `SELECT COUNT(*) FROM promotion_usage
		WHERE user_id = $1 AND promotion_id = $2`

	entriesForOrderSQL = `SELECT order_id, promotion_id, user_id, discount_amount, used_at
		FROM promotion_usage WHERE order_id = $1`
)

var _ usage.Ledger = (*UsageRepository)(nil)

// UsageRepository implements usage.Ledger backed by PostgreSQL. Commit and
// Reverse run in a transaction so the ledger entry and the promotion counter
// move in lockstep.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Commit records a redemption. Idempotent per (orderID, promotionID): a
// replayed confirmation finds the existing row and changes nothing. Returns
// usage.ErrQuotaRace when the conditional counter update matches no row,
// meaning the global limit was spent by a concurrent checkout.
func (r *UsageRepository) Commit(ctx context.Context, e usage.Entry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, insertUsageSQL,
		e.OrderID, e.PromotionID, e.UserID, e.DiscountAmount, e.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting usage entry for order %q: %w", e.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		// Duplicate (orderID, promotionID): already committed.
		return nil
	}

	tag, err = tx.Exec(ctx, consumeQuotaSQL, e.PromotionID)
	if err != nil {
		return fmt.Errorf("consuming quota for promotion %q: %w", e.PromotionID, err)
	}
	if tag.RowsAffected() == 0 {
		return usage.ErrQuotaRace
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit usage tx: %w", err)
	}
	return nil
}

// Reverse compensates a committed entry. No-op when no entry exists, so a
// double cancellation cannot drive the counter below its true value.
func (r *UsageRepository) Reverse(ctx context.Context, orderID, promotionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reverse tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, deleteUsageSQL, orderID, promotionID)
	if err != nil {
		return fmt.Errorf("deleting usage entry for order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, releaseQuotaSQL, promotionID); err != nil {
		return fmt.Errorf("releasing quota for promotion %q: %w", promotionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reverse tx: %w", err)
	}
	return nil
}

// CountForUser returns the user's confirmed redemptions of a promotion.
func (r *UsageRepository) CountForUser(ctx context.Context, userID, promotionID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, countUsageForUserSQL, userID, promotionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting usage for user %q: %w", userID, err)
	}
	return n, nil
}

// EntriesForOrder returns every usage entry committed for an order.
func (r *UsageRepository) EntriesForOrder(ctx context.Context, orderID string) ([]usage.Entry, error) {
	rows, err := r.pool.Query(ctx, entriesForOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading usage entries for order %q: %w", orderID, err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (usage.Entry, error) {
		var e usage.Entry
		err := row.Scan(&e.OrderID, &e.PromotionID, &e.UserID, &e.DiscountAmount, &e.UsedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning usage entries for order %q: %w", orderID, err)
	}
	return entries, nil
}
