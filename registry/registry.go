// Package registry implements the Agent Registry (spec §4.3): name and
// capability routing over a pool of agent.Adapter instances, plus cached
// health snapshots.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmind/orchestrator/agent"
	"github.com/flowmind/orchestrator/core"
)

// HealthSnapshot is the cached outcome of one adapter's health check.
type HealthSnapshot struct {
	Healthy        bool      `json:"healthy"`
	ResponseTimeMs int64     `json:"responseTimeMs,omitempty"`
	LastCheck      time.Time `json:"lastCheck"`
	Error          string    `json:"error,omitempty"`
}

// Registry holds adapters in insertion order and resolves routing keys to
// them (spec §4.3: "pick(key) resolves ... name equals key ... else first
// adapter whose capability list contains key ... else none").
type Registry struct {
	mu       sync.RWMutex
	byOrder  []agent.Adapter
	byName   map[string]agent.Adapter
	health   map[string]HealthSnapshot
	healthTTL time.Duration
	logger   core.Logger
}

// New builds an empty Registry. A zero healthTTL disables caching — every
// checkAllHealth call re-runs every adapter's health check.
func New(healthTTL time.Duration, logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Registry{
		byName:    map[string]agent.Adapter{},
		health:    map[string]HealthSnapshot{},
		healthTTL: healthTTL,
		logger:    logger,
	}
}

// Add registers an adapter. A duplicate name is rejected (spec §4.3).
func (r *Registry) Add(a agent.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[a.Name()]; exists {
		return core.NewValidationError("registry.Add", fmt.Sprintf("agent %q already registered", a.Name()))
	}

	r.byName[a.Name()] = a
	r.byOrder = append(r.byOrder, a)
	return nil
}

// Pick resolves key to an adapter: first by exact name match, then by the
// first (insertion-order) adapter whose capability list contains key.
// Returns nil if nothing matches.
func (r *Registry) Pick(key string) agent.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.byName[key]; ok {
		return a
	}

	for _, a := range r.byOrder {
		if d, ok := a.(agent.Describable); ok {
			for _, cap := range d.Capabilities() {
				if cap == key {
					return a
				}
			}
		}
	}

	return nil
}

// First returns the first registered adapter, or nil if the registry is
// empty. Used by the Step Executor as the dispatch-time fallback when Pick
// finds nothing (spec §4.3).
func (r *Registry) First() agent.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.byOrder) == 0 {
		return nil
	}
	return r.byOrder[0]
}

// All returns a snapshot of the registered adapters in insertion order.
func (r *Registry) All() []agent.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.Adapter, len(r.byOrder))
	copy(out, r.byOrder)
	return out
}

// CheckAllHealth runs every adapter's optional HealthCheck concurrently and
// caches the outcome. An adapter without a HealthCheck is reported healthy
// (spec §4.3).
func (r *Registry) CheckAllHealth(ctx context.Context) map[string]HealthSnapshot {
	r.mu.RLock()
	adapters := make([]agent.Adapter, len(r.byOrder))
	copy(adapters, r.byOrder)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(map[string]HealthSnapshot, len(adapters))
	var mu sync.Mutex

	for _, a := range adapters {
		name := a.Name()

		r.mu.RLock()
		cached, ok := r.health[name]
		r.mu.RUnlock()
		if ok && r.healthTTL > 0 && time.Since(cached.LastCheck) < r.healthTTL {
			mu.Lock()
			results[name] = cached
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(a agent.Adapter) {
			defer wg.Done()
			snap := r.runHealthCheck(ctx, a)
			mu.Lock()
			results[a.Name()] = snap
			mu.Unlock()
		}(a)
	}

	wg.Wait()

	r.mu.Lock()
	for name, snap := range results {
		r.health[name] = snap
	}
	r.mu.Unlock()

	return results
}

func (r *Registry) runHealthCheck(ctx context.Context, a agent.Adapter) HealthSnapshot {
	hc, ok := a.(agent.HealthCheckingAdapter)
	if !ok {
		return HealthSnapshot{Healthy: true, LastCheck: time.Now()}
	}

	start := time.Now()
	healthy := hc.HealthCheck(ctx)
	snap := HealthSnapshot{
		Healthy:        healthy,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		LastCheck:      time.Now(),
	}
	if !healthy {
		snap.Error = fmt.Sprintf("health check failed for %q", a.Name())
	}
	return snap
}
