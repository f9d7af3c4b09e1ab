package registry

import (
	"context"
	"testing"
	"time"

	"github.com/flowmind/orchestrator/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, task string) (*agent.TaskResult, error) {
	return &agent.TaskResult{Status: agent.StatusOK}, nil
}

func TestAddRejectsDuplicateName(t *testing.T) {
	r := New(0, nil)
	require.NoError(t, r.Add(agent.NewFunctionAdapter("a", noop)))
	err := r.Add(agent.NewFunctionAdapter("a", noop))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestPickByNameThenCapabilityThenNone(t *testing.T) {
	r := New(0, nil)
	coder := agent.NewFunctionAdapter("coder", noop, agent.WithFunctionCapabilities("code"))
	researcher := agent.NewFunctionAdapter("researcher", noop, agent.WithFunctionCapabilities("research", "code"))
	require.NoError(t, r.Add(coder))
	require.NoError(t, r.Add(researcher))

	assert.Equal(t, coder, r.Pick("coder"))
	assert.Equal(t, coder, r.Pick("code"), "first adapter in insertion order with the capability")
	assert.Nil(t, r.Pick("unknown"))
}

func TestFirstFallback(t *testing.T) {
	r := New(0, nil)
	assert.Nil(t, r.First())
	a := agent.NewFunctionAdapter("only", noop)
	require.NoError(t, r.Add(a))
	assert.Equal(t, a, r.First())
}

type healthAdapter struct {
	*agent.FunctionAdapter
	healthy bool
	calls   int
}

func (h *healthAdapter) HealthCheck(ctx context.Context) bool {
	h.calls++
	return h.healthy
}

func TestCheckAllHealthCachesWithinTTL(t *testing.T) {
	r := New(time.Minute, nil)
	h := &healthAdapter{FunctionAdapter: agent.NewFunctionAdapter("svc", noop), healthy: true}
	require.NoError(t, r.Add(h))

	snaps := r.CheckAllHealth(context.Background())
	assert.True(t, snaps["svc"].Healthy)
	assert.Equal(t, 1, h.calls)

	r.CheckAllHealth(context.Background())
	assert.Equal(t, 1, h.calls, "second call within TTL should hit the cache, not re-check")
}

func TestCheckAllHealthDefaultsHealthyWithoutHealthCheck(t *testing.T) {
	r := New(0, nil)
	require.NoError(t, r.Add(agent.NewFunctionAdapter("plain", noop)))
	snaps := r.CheckAllHealth(context.Background())
	assert.True(t, snaps["plain"].Healthy)
}
