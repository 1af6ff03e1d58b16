package session

import (
	"context"
	"sync"
	"time"

	"github.com/shopkit/promo-engine/internal/domain/checkout"
)

var _ checkout.SnapshotStore = (*MemoryStore)(nil)

// MemoryStore keeps snapshots in process memory. Used when no Redis URL is
// configured and in tests. Expiry is checked lazily on Get.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	snap      checkout.Snapshot
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore with the given session TTL. A zero
// ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]memoryItem),
	}
}

// Get implements checkout.SnapshotStore.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*checkout.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[sessionID]
	if !ok {
		return nil, nil
	}
	if !item.expiresAt.IsZero() && s.now().After(item.expiresAt) {
		delete(s.items, sessionID)
		return nil, nil
	}

	snap := item.snap
	return &snap, nil
}

// Put implements checkout.SnapshotStore.
func (s *MemoryStore) Put(_ context.Context, snap *checkout.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := memoryItem{snap: *snap}
	if s.ttl > 0 {
		item.expiresAt = s.now().Add(s.ttl)
	}
	s.items[snap.SessionID] = item
	return nil
}

// Delete implements checkout.SnapshotStore.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, sessionID)
	return nil
}
