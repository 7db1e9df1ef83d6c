package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const snapshotPrefix = "botbuilder:context:"

// RedisSnapshotStore keeps one JSON document per execution under a key prefix.
type RedisSnapshotStore struct {
	rdb *redis.Client
}

// NewRedisSnapshotStore wraps an existing client.
func NewRedisSnapshotStore(rdb *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb}
}

func (s *RedisSnapshotStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, snapshotPrefix+snap.ExecutionID, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", snap.ExecutionID, err)
	}
	return nil
}

func (s *RedisSnapshotStore) LoadSnapshot(ctx context.Context, executionID string) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotPrefix+executionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot %s: %w", executionID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", executionID, err)
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) DeleteSnapshot(ctx context.Context, executionID string) error {
	if err := s.rdb.Del(ctx, snapshotPrefix+executionID).Err(); err != nil {
		return fmt.Errorf("redis del snapshot %s: %w", executionID, err)
	}
	return nil
}

func (s *RedisSnapshotStore) CountSnapshots(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisSnapshotStore) ClearSnapshots(ctx context.Context) error {
	keys, err := s.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear snapshots: %w", err)
	}
	return nil
}

func (s *RedisSnapshotStore) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, snapshotPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan snapshots: %w", err)
	}
	return keys, nil
}
