// Package coordstore gives the distributed controller an optional,
// shared place to persist its worker registry across controller
// restarts, and to hold a per-test leader lock in a multi-controller
// deployment. Assignments are not persisted.
// It is a pure bolt-on: a Controller works perfectly well with nothing
// but its in-memory registry (internal/controller) when CoordStoreURL
// is unset.
package coordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkerRecord is the persisted shape of one worker registration.
type WorkerRecord struct {
	WorkerID string    `json:"worker_id"`
	BaseURL  string    `json:"base_url"`
	JoinedAt time.Time `json:"joined_at"`
}

// Store wraps a Redis client with the small set of operations the
// controller needs: worker registry persistence and a leader-election
// lock for multi-controller deployments.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New connects to a Redis instance at addr (host:port). prefix namespaces
// all keys this Store touches, so multiple loadstorm deployments can share
// one Redis instance.
func New(addr, prefix string) *Store {
	if prefix == "" {
		prefix = "loadstorm"
	}
	return &Store{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SaveWorker persists a worker's registration so a restarted controller
// can rebuild its registry without waiting for every worker to heartbeat
// again.
func (s *Store) SaveWorker(ctx context.Context, rec WorkerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("coordstore: marshal worker record: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key("workers"), rec.WorkerID, data).Err(); err != nil {
		return fmt.Errorf("coordstore: save worker: %w", err)
	}
	return nil
}

// RemoveWorker deletes a persisted worker record.
func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	return s.rdb.HDel(ctx, s.key("workers"), workerID).Err()
}

// LoadWorkers returns every persisted worker record, used to rebuild the
// controller's in-memory registry on startup.
func (s *Store) LoadWorkers(ctx context.Context) ([]WorkerRecord, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("workers")).Result()
	if err != nil {
		return nil, fmt.Errorf("coordstore: load workers: %w", err)
	}
	out := make([]WorkerRecord, 0, len(raw))
	for _, v := range raw {
		var rec WorkerRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// AcquireLeader attempts to become the active controller for a given test
// id, using SET NX with a TTL as a simple lease. Renew before ttl expires
// to keep leadership.
func (s *Store) AcquireLeader(ctx context.Context, testID, controllerID string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key("leader", testID), controllerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("coordstore: acquire leader: %w", err)
	}
	return ok, nil
}

// RenewLeader extends an already-held lease; it fails silently (returns
// false) if another controller has since taken over.
func (s *Store) RenewLeader(ctx context.Context, testID, controllerID string, ttl time.Duration) (bool, error) {
	cur, err := s.rdb.Get(ctx, s.key("leader", testID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("coordstore: renew leader: %w", err)
	}
	if cur != controllerID {
		return false, nil
	}
	if err := s.rdb.Expire(ctx, s.key("leader", testID), ttl).Err(); err != nil {
		return false, fmt.Errorf("coordstore: renew leader expire: %w", err)
	}
	return true, nil
}

// ReleaseLeader drops the lease, e.g. on graceful controller shutdown.
func (s *Store) ReleaseLeader(ctx context.Context, testID, controllerID string) error {
	cur, err := s.rdb.Get(ctx, s.key("leader", testID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("coordstore: release leader: %w", err)
	}
	if cur != controllerID {
		return nil
	}
	return s.rdb.Del(ctx, s.key("leader", testID)).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
