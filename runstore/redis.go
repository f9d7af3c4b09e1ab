package runstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/flowmind/orchestrator/orchestrator"
)

// RedisStore is a RunStore backed by Redis, for dashboards that run more
// than one process against the same run history. Grounded on gomind's
// orchestration/redis_execution_store.go: one key per record plus a
// sorted-set index keyed by startedAt for ordered listing.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	maxRuns   int
}

// NewRedisStore builds a RedisStore over client. keyPrefix namespaces every
// key this store touches; maxRuns bounds the index (non-positive falls
// back to 50, matching the in-memory store's default).
func NewRedisStore(client *redis.Client, keyPrefix string, maxRuns int) *RedisStore {
	if maxRuns <= 0 {
		maxRuns = 50
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, maxRuns: maxRuns}
}

func (s *RedisStore) recordKey(runID string) string { return s.keyPrefix + "run:" + runID }
func (s *RedisStore) indexKey() string               { return s.keyPrefix + "run:index" }

func (s *RedisStore) Upsert(ctx context.Context, run *orchestrator.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	if err := s.client.Set(ctx, s.recordKey(run.RunID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	if err := s.client.ZAdd(ctx, s.indexKey(), &redis.Z{
		Score:  float64(run.StartedAt.UnixNano()),
		Member: run.RunID,
	}).Err(); err != nil {
		return fmt.Errorf("redis zadd: %w", err)
	}

	return s.trimIndex(ctx)
}

// trimIndex evicts the oldest entries past maxRuns, mirroring the
// in-memory store's oldest-eviction policy (spec §4.6).
func (s *RedisStore) trimIndex(ctx context.Context) error {
	count, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}
	if count <= int64(s.maxRuns) {
		return nil
	}

	excess := count - int64(s.maxRuns)
	oldest, err := s.client.ZRange(ctx, s.indexKey(), 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("redis zrange: %w", err)
	}

	for _, runID := range oldest {
		s.client.Del(ctx, s.recordKey(runID))
	}
	return s.client.ZRemRangeByRank(ctx, s.indexKey(), 0, excess-1).Err()
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*orchestrator.Run, bool, error) {
	data, err := s.client.Get(ctx, s.recordKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var run orchestrator.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, false, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, true, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*orchestrator.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange: %w", err)
	}

	runs := make([]*orchestrator.Run, 0, len(ids))
	for _, id := range ids {
		run, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, s.recordKey(runID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return s.client.ZRem(ctx, s.indexKey(), runID).Err()
}
