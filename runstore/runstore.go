// Package runstore defines the persistence contract for orchestrator Runs
// (spec §6 "Persisted state") and an in-memory implementation. The
// on-disk KV engine itself is out of scope (spec §1); any backing store —
// in-memory, Redis, or otherwise — need only satisfy RunStore.
package runstore

import (
	"context"
	"sort"
	"sync"

	"github.com/flowmind/orchestrator/orchestrator"
)

// RunStore is satisfied by both the in-memory store in this package and a
// Redis-backed store for multi-process dashboards (see RedisStore, grounded on
// core/redis_registry.go's upsert-by-key pattern).
type RunStore interface {
	// Upsert writes run, replacing any existing entry with the same RunID.
	Upsert(ctx context.Context, run *orchestrator.Run) error
	// Get returns the run with runID, or (nil, false) if absent.
	Get(ctx context.Context, runID string) (*orchestrator.Run, bool, error)
	// List returns the most recent runs, most-recently-started first, up
	// to limit entries.
	List(ctx context.Context, limit int) ([]*orchestrator.Run, error)
	// Delete removes the run with runID. It is not an error to delete a
	// run that does not exist.
	Delete(ctx context.Context, runID string) error
}

// InMemoryStore is a bounded, in-process RunStore (spec §4.6: "a bounded
// in-memory map of recent runs capped at maxRuns with oldest-eviction").
type InMemoryStore struct {
	mu      sync.RWMutex
	maxRuns int
	byID    map[string]*orchestrator.Run
	order   []string // insertion order, oldest first
}

// NewInMemoryStore builds a store capped at maxRuns entries. A non-positive
// maxRuns falls back to the spec default of 50.
func NewInMemoryStore(maxRuns int) *InMemoryStore {
	if maxRuns <= 0 {
		maxRuns = 50
	}
	return &InMemoryStore{
		maxRuns: maxRuns,
		byID:    map[string]*orchestrator.Run{},
	}
}

func (s *InMemoryStore) Upsert(ctx context.Context, run *orchestrator.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[run.RunID]; !exists {
		s.order = append(s.order, run.RunID)
	}
	s.byID[run.RunID] = run

	for len(s.order) > s.maxRuns {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}

	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, runID string) (*orchestrator.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.byID[runID]
	return run, ok, nil
}

// List returns runs sorted by startedAt descending, capped at limit. Note:
// insertion order is not strictly by startedAt when a caller backdates or
// replays runs out of order (an open question the spec leaves
// unresolved) — the explicit sort below is this store's resolution.
func (s *InMemoryStore) List(ctx context.Context, limit int) ([]*orchestrator.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	runs := make([]*orchestrator.Run, 0, len(s.byID))
	for _, run := range s.byID {
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[runID]; !ok {
		return nil
	}
	delete(s.byID, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
