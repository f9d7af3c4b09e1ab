package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmind/orchestrator/agent"
)

// AgentResolver is the narrow slice of registry.Registry the orchestrator
// needs: resolve a routing key, fall back to the first registered adapter,
// and enumerate the roster for the Loop's think-context prefix (spec
// §4.1 step 2a).
type AgentResolver interface {
	Pick(key string) agent.Adapter
	First() agent.Adapter
	All() []agent.Adapter
}

// StepExecutor dispatches a Step's tasks with bounded concurrency (spec
// §4.4).
type StepExecutor struct {
	resolver AgentResolver
	inst     *instrumentation
}

// ExecutorOption configures optional StepExecutor behavior.
type ExecutorOption func(*StepExecutor)

// WithExecutorTelemetry wires an OpenTelemetry tracer and/or meter into the
// executor, emitting a span and duration histogram entry per dispatched
// task. Either argument may be nil. The WithTelemetry LoopOption wires the same
// instrumentation into a Loop's own executor automatically; this option is
// for callers constructing a StepExecutor directly.
func WithExecutorTelemetry(tracer trace.Tracer, meter metric.Meter) ExecutorOption {
	return func(e *StepExecutor) {
		e.inst = newInstrumentation(tracer, meter)
	}
}

// NewStepExecutor builds a StepExecutor routing through resolver.
func NewStepExecutor(resolver AgentResolver, opts ...ExecutorOption) *StepExecutor {
	e := &StepExecutor{resolver: resolver}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches step's tasks in insertion order, windowed into
// batches of at most maxConcurrency in flight at once (spec §4.4: "an
// in-order windowed batch ... each batch awaited to completion before the
// next begins"). This under-utilizes slots when task durations are
// skewed — the spec explicitly flags and preserves this rather than
// switching to a fully interleaved worker pool (spec §9 Open Questions).
func (e *StepExecutor) Execute(ctx context.Context, step *Step, maxConcurrency int, stepNumber int, cb Callbacks) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	tasks := step.Tasks
	for start := 0; start < len(tasks); start += maxConcurrency {
		end := start + maxConcurrency
		if end > len(tasks) {
			end = len(tasks)
		}
		e.runBatch(ctx, tasks[start:end], stepNumber, cb)
	}
}

func (e *StepExecutor) runBatch(ctx context.Context, batch []*StepTask, stepNumber int, cb Callbacks) {
	var wg sync.WaitGroup
	wg.Add(len(batch))

	for _, task := range batch {
		task := task
		go func() {
			defer wg.Done()
			e.runTask(ctx, task, stepNumber, cb)
		}()
	}

	wg.Wait()
}

func (e *StepExecutor) runTask(ctx context.Context, task *StepTask, stepNumber int, cb Callbacks) {
	task.Status = TaskRunning
	cb.fireTaskStart(stepNumber, task.ID)

	taskCtx, endTask := e.inst.startTask(ctx, task.ID, task.Agent)
	result := e.dispatch(taskCtx, task, stepNumber, cb)

	task.Result = result
	if result.Status == agent.StatusOK {
		task.Status = TaskDone
	} else {
		task.Status = TaskFailed
	}
	endTask(string(task.Status))
	cb.fireTaskEnd(stepNumber, task.ID, result, task.Status)
}

// dispatch resolves an adapter and runs the task against it, converting
// any adapter error or panic into a TaskResult so one task's failure never
// cancels its siblings (spec §4.4).
func (e *StepExecutor) dispatch(ctx context.Context, task *StepTask, stepNumber int, cb Callbacks) (result *agent.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &agent.TaskResult{Status: agent.StatusError, Output: fmt.Sprintf("panic: %v", r)}
		}
	}()

	a := e.resolveAgent(task.Agent)
	if a == nil {
		return &agent.TaskResult{Status: agent.StatusError, Output: "No agent available to handle task " + task.ID}
	}

	streaming, ok := a.(agent.StreamingAdapter)
	if ok && cb.OnTaskChunk != nil {
		res, err := streaming.ExecuteStream(ctx, task.Task, func(content string, done bool) {
			cb.fireTaskChunk(stepNumber, task.ID, content, done)
		})
		if err != nil {
			return &agent.TaskResult{Status: agent.StatusError, Output: err.Error()}
		}
		return res
	}

	res, err := a.Execute(ctx, task.Task)
	if err != nil {
		return &agent.TaskResult{Status: agent.StatusError, Output: err.Error()}
	}
	return res
}

func (e *StepExecutor) resolveAgent(key string) agent.Adapter {
	if key != "" {
		if a := e.resolver.Pick(key); a != nil {
			return a
		}
	}
	return e.resolver.First()
}
