package usage

import (
	"context"
	"sync"
	"time"
)

// QuotaFunc reports the usage limit for a promotion ID; zero means unlimited.
type QuotaFunc func(promotionID string) int

// MemoryLedger is an in-process Ledger used in tests and in single-node dev
// runs without Postgres. The mutex serializes the increment-if-below-limit
// check the same way the SQL conditional update does.
type MemoryLedger struct {
	quota QuotaFunc

	mu      sync.Mutex
	entries map[ledgerKey]Entry
	used    map[string]int
}

type ledgerKey struct {
	orderID     string
	promotionID string
}

// NewMemoryLedger creates a MemoryLedger. A nil quota treats every promotion
// as unlimited.
func NewMemoryLedger(quota QuotaFunc) *MemoryLedger {
	if quota == nil {
		quota = func(string) int { return 0 }
	}
	return &MemoryLedger{
		quota:   quota,
		entries: make(map[ledgerKey]Entry),
		used:    make(map[string]int),
	}
}

// Commit implements Ledger.
func (l *MemoryLedger) Commit(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{orderID: e.OrderID, promotionID: e.PromotionID}
	if _, ok := l.entries[key]; ok {
		return nil
	}

	if limit := l.quota(e.PromotionID); limit > 0 && l.used[e.PromotionID] >= limit {
		return ErrQuotaRace
	}

	if e.UsedAt.IsZero() {
		e.UsedAt = time.Now()
	}
	l.entries[key] = e
	l.used[e.PromotionID]++
	return nil
}

// Reverse implements Ledger.
func (l *MemoryLedger) Reverse(_ context.Context, orderID, promotionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{orderID: orderID, promotionID: promotionID}
	if _, ok := l.entries[key]; !ok {
		return nil
	}

	delete(l.entries, key)
	if l.used[promotionID] > 0 {
		l.used[promotionID]--
	}
	return nil
}

// CountForUser implements Ledger.
func (l *MemoryLedger) CountForUser(_ context.Context, userID, promotionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.UserID == userID && e.PromotionID == promotionID {
			n++
		}
	}
	return n, nil
}

// EntriesForOrder implements Ledger.
func (l *MemoryLedger) EntriesForOrder(_ context.Context, orderID string) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for key, e := range l.entries {
		if key.orderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// UsedCount reports the current counter for a promotion.
func (l *MemoryLedger) UsedCount(promotionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[promotionID]
}

var _ Ledger = (*MemoryLedger)(nil)
