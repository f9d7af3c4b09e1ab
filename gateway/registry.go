package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/flowmind/orchestrator/core"
)

// connectRetries and connectBackoff implement "attempt connect up to 3
// times with 2-second backoff between attempts" (spec §4.5).
const (
	connectRetries = 3
	connectBackoff = 2 * time.Second
)

// Connector is the subset of GatewayClient the registry needs, narrowed so
// tests can substitute a fake.
type Connector interface {
	Name() string
	Connect(ctx context.Context) error
}

// Registry is a named pool of gateway connectors with retrying connect
// and round-robin fallback pick (spec §4.5 "Gateway Registry.pick"). When
// pick is called with no preference, it remembers the last starting point
// so repeated unpreferenced picks rotate across the pool instead of always
// favoring the first-registered gateway.
type Registry struct {
	mu        sync.Mutex
	byOrder   []Connector
	nextStart int
	logger    core.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(logger core.Logger) *Registry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Registry{logger: logger}
}

// Add registers a connector.
func (r *Registry) Add(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOrder = append(r.byOrder, c)
}

// All returns the registered connectors in insertion order.
func (r *Registry) All() []Connector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Connector, len(r.byOrder))
	copy(out, r.byOrder)
	return out
}

// Pick selects preferred if named and present, else tries every candidate
// starting from the rotating round-robin cursor, retrying each up to
// connectRetries times. It returns the first connector that connects
// successfully, or the last error if every candidate exhausted its
// retries. An empty registry fails with the well-known "No gateways
// configured" message.
func (r *Registry) Pick(ctx context.Context, preferred string) (Connector, error) {
	candidates, rotating := r.orderedCandidates(preferred)
	if len(candidates) == 0 {
		return nil, core.NewConfigError("gateway.Registry.Pick", "No gateways configured")
	}

	if rotating {
		r.mu.Lock()
		r.nextStart = (r.nextStart + 1) % len(r.byOrder)
		r.mu.Unlock()
	}

	var lastErr error
	for _, c := range candidates {
		if err := r.connectWithRetry(ctx, c); err != nil {
			lastErr = err
			continue
		}
		return c, nil
	}

	return nil, lastErr
}

// orderedCandidates returns the candidate list to try, and whether this
// pick consumed the round-robin cursor (true only for unpreferenced
// picks against a non-empty registry).
func (r *Registry) orderedCandidates(preferred string) ([]Connector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byOrder) == 0 {
		return nil, false
	}

	if preferred != "" {
		for i, c := range r.byOrder {
			if c.Name() == preferred {
				ordered := make([]Connector, 0, len(r.byOrder))
				ordered = append(ordered, c)
				ordered = append(ordered, r.byOrder[:i]...)
				ordered = append(ordered, r.byOrder[i+1:]...)
				return ordered, false
			}
		}
	}

	return rotateFrom(r.byOrder, r.nextStart), true
}

func rotateFrom(list []Connector, start int) []Connector {
	n := len(list)
	out := make([]Connector, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, list[(start+i)%n])
	}
	return out
}

func (r *Registry) connectWithRetry(ctx context.Context, c Connector) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.Connect(ctx)
	}, backoff.WithMaxTries(connectRetries), backoff.WithBackOff(backoff.NewConstantBackOff(connectBackoff)))
	if err != nil {
		r.logger.Warn("gateway connect failed after retries", map[string]interface{}{"gateway": c.Name(), "error": err.Error()})
	}
	return err
}
