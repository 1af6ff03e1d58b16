package checkout

import "context"

// SnapshotStore persists session snapshots for the lifetime of a checkout
// session. Implementations drop snapshots on session expiry; the engine never
// reads a snapshot after order completion.
type SnapshotStore interface {
	// Get returns the snapshot for a session, or nil when none exists.
	Get(ctx context.Context, sessionID string) (*Snapshot, error)
	// Put stores a snapshot, refreshing its expiry.
	Put(ctx context.Context, snap *Snapshot) error
	// Delete drops a session's snapshot. No-op when absent.
	Delete(ctx context.Context, sessionID string) error
}
