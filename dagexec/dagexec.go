// Package dagexec implements the dependency-graph task executor referenced
// by the component table as a secondary execution strategy alongside the
// adaptive Think→Execute loop (see orchestrator.Loop). Nothing in the
// adaptive loop calls into this package — it is kept as an explicit,
// independently testable alternative for callers that already have a
// complete task graph up front and want topological, skip-on-failure
// execution instead of step-by-step planning. Grounded on gomind's
// orchestration/workflow_dag.go.
package dagexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowmind/orchestrator/agent"
)

// NodeStatus is the execution status of one graph node.
type NodeStatus int

const (
	NodePending NodeStatus = iota
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
)

// Node is one task in the graph along with its dependency edges.
type Node struct {
	ID           string
	Dependencies []string
	Dependents   []string
	Status       NodeStatus
	Result       *agent.TaskResult
}

// Graph is a directed acyclic graph of named tasks.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// NewGraph builds an empty Graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts or updates a node's dependency list and rebuilds
// dependents across the graph.
func (g *Graph) AddNode(id string, dependencies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[id]; ok {
		existing.Dependencies = dependencies
	} else {
		g.nodes[id] = &Node{ID: id, Dependencies: dependencies, Status: NodePending}
	}
	g.rebuildDependents()
}

func (g *Graph) rebuildDependents() {
	for _, node := range g.nodes {
		node.Dependents = nil
	}
	for id, node := range g.nodes {
		for _, dep := range node.Dependencies {
			depNode, ok := g.nodes[dep]
			if !ok {
				continue
			}
			found := false
			for _, d := range depNode.Dependents {
				if d == id {
					found = true
					break
				}
			}
			if !found {
				depNode.Dependents = append(depNode.Dependents, id)
			}
		}
	}
}

// Validate reports an unknown-dependency reference or a circular
// dependency, either of which makes the graph unexecutable.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, node := range g.nodes {
		for _, dep := range node.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("node %s depends on unknown node %s", id, dep)
			}
		}
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	for id := range g.nodes {
		if !visited[id] {
			if g.hasCycle(id, visited, inStack) {
				return fmt.Errorf("dependency graph contains a cycle")
			}
		}
	}
	return nil
}

func (g *Graph) hasCycle(id string, visited, inStack map[string]bool) bool {
	visited[id] = true
	inStack[id] = true
	defer func() { inStack[id] = false }()

	for _, dep := range g.nodes[id].Dependents {
		if !visited[dep] {
			if g.hasCycle(dep, visited, inStack) {
				return true
			}
		} else if inStack[dep] {
			return true
		}
	}
	return false
}

// TopologicalOrder returns node IDs ordered so every dependency precedes
// its dependents (Kahn's algorithm). The Graph must already be cycle-free;
// if a cycle exists the returned slice omits the nodes caught in it.
func (g *Graph) TopologicalOrder() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = len(node.Dependencies)
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, dependent := range g.nodes[current].Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return order
}

// ExecutionLevels groups node IDs into batches that can run in parallel:
// level N contains every node whose dependencies all lie in levels
// 0..N-1.
func (g *Graph) ExecutionLevels() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var levels [][]string
	processed := make(map[string]bool)

	for {
		var level []string
		for id, node := range g.nodes {
			if processed[id] {
				continue
			}
			ready := true
			for _, dep := range node.Dependencies {
				if !processed[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			break
		}
		for _, id := range level {
			processed[id] = true
		}
		levels = append(levels, level)
	}
	return levels
}

// node returns the node for id, or nil. Caller holds mu for reads that
// need it; this helper itself does not lock.
func (g *Graph) node(id string) *Node { return g.nodes[id] }
