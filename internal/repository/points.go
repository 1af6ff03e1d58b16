package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopkit/promo-engine/internal/domain/points"
)

const (
	balanceSQL = `SELECT balance FROM points_accounts WHERE user_id = $1`

	lockBalanceSQL = `SELECT balance FROM points_accounts WHERE user_id = $1 FOR UPDATE`

	upsertAccountSQL = `INSERT INTO points_accounts (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`

	insertTransactionSQL = `INSERT INTO points_transactions
		(user_id, type, amount, balance_before, balance_after, order_id)
		VALUES ($1, $2, $3, $4, $5, $6)`

	findByOrderSQL = `SELECT user_id, amount FROM points_transactions
		WHERE order_id = $1 AND type = $2 LIMIT 1`

	historySQL = `SELECT id, user_id, type, amount, balance_before, balance_after, order_id, created_at
		FROM points_transactions WHERE user_id = $1 ORDER BY id`
)

var _ points.Ledger = (*PointsRepository)(nil)

// PointsRepository implements points.Ledger backed by PostgreSQL. Balance
// mutations lock the account row so the transaction trail and the stored
// balance cannot diverge.
type PointsRepository struct {
	pool *pgxpool.Pool
}

// NewPointsRepository returns a PointsRepository that uses the given pool.
func NewPointsRepository(pool *pgxpool.Pool) *PointsRepository {
	return &PointsRepository{pool: pool}
}

// Balance returns the user's current balance; unknown users have balance 0.
func (r *PointsRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, balanceSQL, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("loading points balance for %q: %w", userID, err)
	}
	return balance, nil
}

// Redeem spends pts from the user's balance and appends a redeemed
// transaction referencing orderID. Idempotent per orderID; rejects overdraw
// with points.ErrInsufficientBalance.
func (r *PointsRepository) Redeem(ctx context.Context, userID, orderID string, pts int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin redeem tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing string
	err = tx.QueryRow(ctx, findByOrderSQL, orderID, points.TypeRedeemed).Scan(&existing, new(int64))
	if err == nil {
		// Replayed confirmation: already redeemed for this order.
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("checking redemption for order %q: %w", orderID, err)
	}

	var balance int64
	err = tx.QueryRow(ctx, lockBalanceSQL, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return points.ErrInsufficientBalance
		}
		return fmt.Errorf("locking points account %q: %w", userID, err)
	}
	if balance < pts {
		return points.ErrInsufficientBalance
	}

	after := balance - pts
	if _, err := tx.Exec(ctx, upsertAccountSQL, userID, after); err != nil {
		return fmt.Errorf("updating points balance for %q: %w", userID, err)
	}
	if _, err := tx.Exec(ctx, insertTransactionSQL,
		userID, points.TypeRedeemed, pts, balance, after, orderID,
	); err != nil {
		return fmt.Errorf("appending redeem transaction for %q: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit redeem tx: %w", err)
	}
	return nil
}

// Refund compensates a prior redemption for orderID with an adjustment
// transaction. No-op when no redemption exists or when already refunded.
func (r *PointsRepository) Refund(ctx context.Context, orderID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refund tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID string
		amount int64
	)
	err = tx.QueryRow(ctx, findByOrderSQL, orderID, points.TypeRedeemed).Scan(&userID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("finding redemption for order %q: %w", orderID, err)
	}

	err = tx.QueryRow(ctx, findByOrderSQL, orderID, points.TypeAdjustment).Scan(new(string), new(int64))
	if err == nil {
		// Already refunded.
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("checking refund for order %q: %w", orderID, err)
	}

	var balance int64
	if err := tx.QueryRow(ctx, lockBalanceSQL, userID).Scan(&balance); err != nil {
		return fmt.Errorf("locking points account %q: %w", userID, err)
	}

	after := balance + amount
	if _, err := tx.Exec(ctx, upsertAccountSQL, userID, after); err != nil {
		return fmt.Errorf("updating points balance for %q: %w", userID, err)
	}
	if _, err := tx.Exec(ctx, insertTransactionSQL,
		userID, points.TypeAdjustment, amount, balance, after, orderID,
	); err != nil {
		return fmt.Errorf("appending refund transaction for %q: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refund tx: %w", err)
	}
	return nil
}

// Earn credits points to a user, creating the account when missing. Used by
// the seed tool; the engine itself never earns points.
func (r *PointsRepository) Earn(ctx context.Context, userID string, pts int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin earn tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx, lockBalanceSQL, userID).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("locking points account %q: %w", userID, err)
	}

	after := balance + pts
	if _, err := tx.Exec(ctx, upsertAccountSQL, userID, after); err != nil {
		return fmt.Errorf("updating points balance for %q: %w", userID, err)
	}
	if _, err := tx.Exec(ctx, insertTransactionSQL,
		userID, points.TypeEarned, pts, balance, after, "",
	); err != nil {
		return fmt.Errorf("appending earn transaction for %q: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit earn tx: %w", err)
	}
	return nil
}

// History returns the user's transactions in append order.
func (r *PointsRepository) History(ctx context.Context, userID string) ([]points.Transaction, error) {
	rows, err := r.pool.Query(ctx, historySQL, userID)
	if err != nil {
		return nil, fmt.Errorf("loading points history for %q: %w", userID, err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (points.Transaction, error) {
		var (
			t   points.Transaction
			typ string
		)
		err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.OrderID, &t.CreatedAt)
		t.Type = points.TransactionType(typ)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning points history for %q: %w", userID, err)
	}
	return txs, nil
}
