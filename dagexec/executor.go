package dagexec

import (
	"context"
	"sync"

	"github.com/flowmind/orchestrator/agent"
)

// TaskFunc runs the work associated with one node ID.
type TaskFunc func(ctx context.Context, id string) (*agent.TaskResult, error)

// Executor runs a Graph's nodes level by level, bounding concurrency
// within a level and skipping any node whose dependency chain contains a
// failure (skipDownstream).
type Executor struct {
	graph          *Graph
	maxConcurrency int
	mu             sync.Mutex // guards the results map during a level
}

// NewExecutor builds an Executor over graph. maxConcurrency bounds how
// many nodes of a single level run at once; non-positive means
// unbounded.
func NewExecutor(graph *Graph, maxConcurrency int) *Executor {
	return &Executor{graph: graph, maxConcurrency: maxConcurrency}
}

// Run validates the graph, then executes it level by level via run. It
// returns the per-node results, including synthesized "skipped" results
// for nodes downstream of a failure.
func (e *Executor) Run(ctx context.Context, run TaskFunc) (map[string]*agent.TaskResult, error) {
	if err := e.graph.Validate(); err != nil {
		return nil, err
	}

	levels := e.graph.ExecutionLevels()
	results := make(map[string]*agent.TaskResult, len(e.graph.nodes))

	for _, level := range levels {
		e.runLevel(ctx, level, run, results)
	}

	return results, nil
}

func (e *Executor) runLevel(ctx context.Context, level []string, run TaskFunc, results map[string]*agent.TaskResult) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.semCap())

	for _, id := range level {
		e.mu.Lock()
		skip := e.shouldSkip(id, results)
		if skip {
			e.markSkipped(id, results)
		}
		e.mu.Unlock()
		if skip {
			continue
		}

		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.runNode(ctx, id, run, results)
		}()
	}

	wg.Wait()
}

func (e *Executor) semCap() int {
	if e.maxConcurrency <= 0 {
		return 1 << 20 // effectively unbounded
	}
	return e.maxConcurrency
}

// shouldSkip reports whether id has a dependency that failed or was
// itself skipped — skipDownstream propagates transitively through a
// graph that is processed level by level, so by the time id's level
// runs every upstream dependency already has a terminal result.
func (e *Executor) shouldSkip(id string, results map[string]*agent.TaskResult) bool {
	node := e.graph.node(id)
	for _, dep := range node.Dependencies {
		res, ok := results[dep]
		if !ok {
			continue
		}
		if res.Status != agent.StatusOK {
			return true
		}
	}
	return false
}

func (e *Executor) markSkipped(id string, results map[string]*agent.TaskResult) {
	node := e.graph.node(id)
	node.Status = NodeSkipped
	result := &agent.TaskResult{Status: agent.StatusError, Output: "skipped: upstream dependency did not complete"}
	node.Result = result
	results[id] = result
}

func (e *Executor) runNode(ctx context.Context, id string, run TaskFunc, results map[string]*agent.TaskResult) {
	node := e.graph.node(id)
	node.Status = NodeRunning

	result, err := e.dispatch(ctx, id, run)
	if err != nil {
		result = &agent.TaskResult{Status: agent.StatusError, Output: err.Error()}
	}
	node.Result = result
	if result.Status != agent.StatusOK {
		node.Status = NodeFailed
	} else {
		node.Status = NodeCompleted
	}
	e.mu.Lock()
	results[id] = result
	e.mu.Unlock()
}

func (e *Executor) dispatch(ctx context.Context, id string, run TaskFunc) (result *agent.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = &agent.TaskResult{Status: agent.StatusError, Output: "panic in node " + id}
			err = nil
		}
	}()
	return run(ctx, id)
}
