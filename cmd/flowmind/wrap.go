package main

import (
	"context"

	"github.com/flowmind/orchestrator/agent"
	"github.com/flowmind/orchestrator/cache"
	"github.com/flowmind/orchestrator/ratelimit"
)

// cachedLimitedAdapter wraps an agent.Adapter with the rate limiter and
// task cache built in main(): every Execute first serves from cache on a
// TaskKey hit; only on a miss does it acquire a limiter slot, then fall
// through to the wrapped adapter and populate the cache on success (spec §4.7). It
// forwards Describable explicitly rather than relying on interface
// embedding, which would silently drop those methods since the embedded
// field's static type is the narrow agent.Adapter interface.
type cachedLimitedAdapter struct {
	inner   agent.Adapter
	cache   *cache.Cache
	limiter *ratelimit.Limiter
}

func wrapWithCacheAndLimiter(a agent.Adapter, c *cache.Cache, l *ratelimit.Limiter) agent.Adapter {
	return &cachedLimitedAdapter{inner: a, cache: c, limiter: l}
}

func (a *cachedLimitedAdapter) Name() string { return a.inner.Name() }
func (a *cachedLimitedAdapter) Type() string  { return a.inner.Type() }

func (a *cachedLimitedAdapter) Description() string {
	if d, ok := a.inner.(agent.Describable); ok {
		return d.Description()
	}
	return ""
}

func (a *cachedLimitedAdapter) Capabilities() []string {
	if d, ok := a.inner.(agent.Describable); ok {
		return d.Capabilities()
	}
	return nil
}

func (a *cachedLimitedAdapter) Execute(ctx context.Context, task string) (*agent.TaskResult, error) {
	key := cache.TaskKey(task, a.inner.Name())
	if cached, ok := a.cache.Get(key); ok {
		if result, ok := cached.(*agent.TaskResult); ok {
			return result, nil
		}
	}

	if err := a.limiter.Acquire(); err != nil {
		return &agent.TaskResult{Status: agent.StatusError, Output: err.Error()}, nil
	}

	result, err := a.inner.Execute(ctx, task)
	if err != nil {
		return result, err
	}
	if result.Status == agent.StatusOK {
		a.cache.Set(key, result)
	}
	return result, nil
}
