package points

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger used in tests and dev runs. It keeps
// the same closure invariant as the Postgres implementation: the balance
// always equals the signed sum of the user's transactions.
type MemoryLedger struct {
	mu       sync.Mutex
	nextID   int64
	balances map[string]int64
	history  map[string][]Transaction
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int64),
		history:  make(map[string][]Transaction),
	}
}

// Earn credits points to a user. Exposed for seeding and tests; the engine
// itself never earns points.
func (l *MemoryLedger) Earn(userID string, pts int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(userID, TypeEarned, pts, "")
}

// Balance implements Ledger.
func (l *MemoryLedger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

// Redeem implements Ledger.
func (l *MemoryLedger) Redeem(_ context.Context, userID, orderID string, pts int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.findByOrder(orderID, TypeRedeemed) != nil {
		return nil
	}
	if l.balances[userID] < pts {
		return ErrInsufficientBalance
	}
	l.append(userID, TypeRedeemed, pts, orderID)
	return nil
}

// Refund implements Ledger.
func (l *MemoryLedger) Refund(_ context.Context, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	redeemed := l.findByOrder(orderID, TypeRedeemed)
	if redeemed == nil {
		return nil
	}
	if l.findByOrder(orderID, TypeAdjustment) != nil {
		return nil
	}
	l.append(redeemed.UserID, TypeAdjustment, redeemed.Amount, orderID)
	return nil
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, userID string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transaction, len(l.history[userID]))
	copy(out, l.history[userID])
	return out, nil
}

// append records a transaction and moves the balance. Caller holds l.mu.
func (l *MemoryLedger) append(userID string, typ TransactionType, amount int64, orderID string) {
	before := l.balances[userID]
	after := before + typ.Signed(amount)

	l.nextID++
	l.history[userID] = append(l.history[userID], Transaction{
		ID:            l.nextID,
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		OrderID:       orderID,
		CreatedAt:     time.Now(),
	})
	l.balances[userID] = after
}

// findByOrder returns the first transaction of the given type referencing
// orderID, or nil. Caller holds l.mu.
func (l *MemoryLedger) findByOrder(orderID string, typ TransactionType) *Transaction {
	if orderID == "" {
		return nil
	}
	for _, txs := range l.history {
		for i := range txs {
			if txs[i].OrderID == orderID && txs[i].Type == typ {
				return &txs[i]
			}
		}
	}
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
