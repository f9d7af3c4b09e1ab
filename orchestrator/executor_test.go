package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flowmind/orchestrator/agent"
	"github.com/flowmind/orchestrator/core"
	"github.com/flowmind/orchestrator/registry"
)

func TestStepExecutorRunsAllTasks(t *testing.T) {
	r := newTestRegistry(t, echoAdapter("researcher"))
	exec := NewStepExecutor(r)

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "a", Agent: "researcher", Status: TaskPending},
		{ID: "t2", Task: "b", Agent: "researcher", Status: TaskPending},
	}}

	exec.Execute(context.Background(), step, 8, 1, Callbacks{})

	for _, task := range step.Tasks {
		assert.Equal(t, TaskDone, task.Status)
		require.NotNil(t, task.Result)
		assert.Equal(t, agent.StatusOK, task.Result.Status)
	}
}

// TestStepExecutorWindowsBatches asserts the documented windowed-batch
// behavior: with maxConcurrency 1, two tasks never overlap in flight.
func TestStepExecutorWindowsBatches(t *testing.T) {
	var inFlight int32
	var maxObserved int32

	slow := agent.NewFunctionAdapter("slow", func(ctx context.Context, task string) (*agent.TaskResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxObserved)
			if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &agent.TaskResult{Status: agent.StatusOK, Output: "done"}, nil
	})

	r := newTestRegistry(t, slow)
	exec := NewStepExecutor(r)

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "a", Agent: "slow", Status: TaskPending},
		{ID: "t2", Task: "b", Agent: "slow", Status: TaskPending},
	}}

	exec.Execute(context.Background(), step, 1, 1, Callbacks{})

	assert.EqualValues(t, 1, maxObserved)
}

func TestStepExecutorFailureIsolatesTask(t *testing.T) {
	failing := agent.NewFunctionAdapter("broken", func(ctx context.Context, task string) (*agent.TaskResult, error) {
		panic("kaboom")
	})
	r := newTestRegistry(t, failing, echoAdapter("researcher"))
	exec := NewStepExecutor(r)

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "a", Agent: "broken", Status: TaskPending},
		{ID: "t2", Task: "b", Agent: "researcher", Status: TaskPending},
	}}

	exec.Execute(context.Background(), step, 8, 1, Callbacks{})

	assert.Equal(t, TaskFailed, step.Tasks[0].Status)
	assert.Contains(t, step.Tasks[0].Result.Output, "kaboom")
	assert.Equal(t, TaskDone, step.Tasks[1].Status)
}

func TestStepExecutorFallsBackToFirstWhenNoAgentMatch(t *testing.T) {
	r := newTestRegistry(t, echoAdapter("researcher"))
	exec := NewStepExecutor(r)

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "a", Agent: "nonexistent", Status: TaskPending},
	}}

	exec.Execute(context.Background(), step, 8, 1, Callbacks{})

	assert.Equal(t, TaskDone, step.Tasks[0].Status)
}

func TestStepExecutorNoAgentsRegisteredFails(t *testing.T) {
	r := registry.New(0, core.NoOpLogger{})
	exec := NewStepExecutor(r)

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "a", Status: TaskPending},
	}}

	exec.Execute(context.Background(), step, 8, 1, Callbacks{})

	assert.Equal(t, TaskFailed, step.Tasks[0].Status)
	assert.Contains(t, step.Tasks[0].Result.Output, "No agent available")
}

func TestStepExecutorStreamingAdapterFiresChunks(t *testing.T) {
	streaming := &streamingStub{}
	r := newTestRegistry(t, streaming)
	exec := NewStepExecutor(r)

	var mu sync.Mutex
	var chunks []string
	cb := Callbacks{OnTaskChunk: func(stepNumber int, taskID, content string, done bool) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, content)
	}}

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "stream it", Agent: "streamer", Status: TaskPending},
	}}

	exec.Execute(context.Background(), step, 8, 1, cb)

	assert.Equal(t, TaskDone, step.Tasks[0].Status)
	assert.Equal(t, []string{"hel", "lo"}, chunks)
}

type streamingStub struct{}

func (s *streamingStub) Name() string { return "streamer" }
func (s *streamingStub) Type() string { return "streaming" }
func (s *streamingStub) Execute(ctx context.Context, task string) (*agent.TaskResult, error) {
	return &agent.TaskResult{Status: agent.StatusOK, Output: "hello"}, nil
}
func (s *streamingStub) ExecuteStream(ctx context.Context, task string, sink agent.ChunkSink) (*agent.TaskResult, error) {
	sink("hel", false)
	sink("lo", true)
	return &agent.TaskResult{Status: agent.StatusOK, Output: "hello"}, nil
}

func TestStepExecutorWithTelemetryTagsTaskSpanWithStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	r := newTestRegistry(t, echoAdapter("researcher"))
	exec := NewStepExecutor(r, WithExecutorTelemetry(tp.Tracer("test"), nil))

	step := &Step{StepNumber: 1, Tasks: []*StepTask{
		{ID: "t1", Task: "a", Agent: "researcher", Status: TaskPending},
	}}
	exec.Execute(context.Background(), step, 8, 1, Callbacks{})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "orchestrator.task", spans[0].Name())

	var gotStatus string
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "task.status" {
			gotStatus = attr.Value.AsString()
		}
	}
	assert.Equal(t, TaskDone, gotStatus)
}
