// Package session provides checkout.SnapshotStore implementations: a
// Redis-backed store for deployments and an in-memory store for dev and
// tests. Snapshots are ephemeral; both stores drop them on session expiry.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/shopkit/promo-engine/internal/domain/checkout"
)

const keyPrefix = "promo:session:"

var _ checkout.SnapshotStore = (*RedisStore)(nil)

// RedisStore keeps session snapshots in Redis with a TTL matching the
// checkout-session lifetime. Every Put refreshes the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. ttl bounds how long an abandoned
// session keeps its applied promotions.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get implements checkout.SnapshotStore.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*checkout.Snapshot, error) {
	data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "redis get")
	}

	var snap checkout.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &snap, nil
}

// Put implements checkout.SnapshotStore.
func (s *RedisStore) Put(ctx context.Context, snap *checkout.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	if err := s.client.Set(ctx, keyPrefix+snap.SessionID, data, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Delete implements checkout.SnapshotStore.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}
