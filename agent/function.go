package agent

import (
	"context"
	"fmt"
	"time"
)

// Func is an in-process callable an orchestrator can dispatch a task to
// directly, without any network hop.
type Func func(ctx context.Context, task string) (*TaskResult, error)

// FunctionAdapter wraps a Func as an Adapter, enforcing the default 60s
// execute timeout (spec §5) as a race between the call and a rejection
// timer, since an in-process callable has no socket to abort.
type FunctionAdapter struct {
	name         string
	typ          string
	description  string
	capabilities []string
	fn           Func
	timeout      time.Duration
}

// NewFunctionAdapter builds a FunctionAdapter. A zero timeout uses the 60s
// default.
func NewFunctionAdapter(name string, fn Func, opts ...FunctionOption) *FunctionAdapter {
	a := &FunctionAdapter{name: name, typ: "function", fn: fn, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FunctionOption configures a FunctionAdapter at construction.
type FunctionOption func(*FunctionAdapter)

func WithFunctionDescription(d string) FunctionOption {
	return func(a *FunctionAdapter) { a.description = d }
}

func WithFunctionCapabilities(caps ...string) FunctionOption {
	return func(a *FunctionAdapter) { a.capabilities = caps }
}

func WithFunctionTimeout(d time.Duration) FunctionOption {
	return func(a *FunctionAdapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func (a *FunctionAdapter) Name() string            { return a.name }
func (a *FunctionAdapter) Type() string             { return a.typ }
func (a *FunctionAdapter) Description() string      { return a.description }
func (a *FunctionAdapter) Capabilities() []string    { return a.capabilities }

// Execute runs fn with a timeout. A slow fn that never checks ctx keeps
// running in its own goroutine after Execute returns a timeout result —
// the caller is isolated from it, not the underlying goroutine killed,
// mirroring the note in spec §5 that Go has no preemptive cancellation of
// arbitrary code.
func (a *FunctionAdapter) Execute(ctx context.Context, task string) (*TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		result *TaskResult
		err    error
	}
	ch := make(chan outcome, 1)
	start := time.Now()

	go func() {
		result, err := a.fn(ctx, task)
		ch <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return &TaskResult{
			Status:   StatusTimeout,
			Output:   fmt.Sprintf("task timed out after %s", a.timeout),
			Metadata: map[string]interface{}{"durationMs": time.Since(start).Milliseconds()},
		}, nil
	case o := <-ch:
		if o.err != nil {
			return &TaskResult{
				Status:   StatusError,
				Output:   o.err.Error(),
				Metadata: map[string]interface{}{"durationMs": time.Since(start).Milliseconds()},
			}, nil
		}
		if o.result.Metadata == nil {
			o.result.Metadata = map[string]interface{}{}
		}
		o.result.Metadata["durationMs"] = time.Since(start).Milliseconds()
		return o.result, nil
	}
}
