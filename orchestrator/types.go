// Package orchestrator implements the adaptive Think→Execute loop (spec
// §4.1) and the bounded-concurrency Step Executor (spec §4.4) that backs
// it.
package orchestrator

import (
	"time"

	"github.com/flowmind/orchestrator/agent"
)

// Task states (spec §3: "status advances monotonically
// pending→running→{done,failed}").
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Run states (spec §3).
const (
	RunThinking  = "thinking"
	RunExecuting = "executing"
	RunDone      = "done"
	RunError     = "error"
)

// StepTask is one unit inside a Step (spec §3).
type StepTask struct {
	ID     string             `json:"id"`
	Task   string             `json:"task"`
	Agent  string             `json:"agent,omitempty"`
	Status string             `json:"status"`
	Result *agent.TaskResult  `json:"result,omitempty"`
}

// Step is one executed batch (spec §3).
type Step struct {
	StepNumber int         `json:"stepNumber"`
	Tasks      []*StepTask `json:"tasks"`
}

// Run is the unit of work tracked end to end (spec §3).
type Run struct {
	RunID       string     `json:"runId"`
	Goal        string     `json:"goal"`
	State       string     `json:"state"`
	Steps       []*Step    `json:"steps"`
	FinalAnswer string     `json:"finalAnswer,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Options configures one Run (spec §4.1: maxConcurrency default 8,
// maxSteps default 10).
type Options struct {
	MaxConcurrency   int
	MaxSteps         int
	OutputTruncation int
}

// DefaultOptions returns the spec's defaults.
func DefaultOptions() Options {
	return Options{MaxConcurrency: 8, MaxSteps: 10, OutputTruncation: 3000}
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 8
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 10
	}
	if o.OutputTruncation <= 0 {
		o.OutputTruncation = 3000
	}
	return o
}

// Callbacks are the optional lifecycle hooks fired during a Run (spec
// §4.1). Every field is optional; a nil callback is simply not invoked.
type Callbacks struct {
	OnThinking  func(stepNumber int)
	OnStepStart func(stepNumber int, taskIDs []string, tasks []string)
	OnTaskStart func(stepNumber int, taskID string)
	OnTaskChunk func(stepNumber int, taskID, content string, done bool)
	OnTaskEnd   func(stepNumber int, taskID string, result *agent.TaskResult, status string)
	OnStepEnd   func(stepNumber int)
	OnFinish    func(answer string)
	OnError     func(err error)
}

func (c Callbacks) fireThinking(n int) {
	if c.OnThinking != nil {
		c.OnThinking(n)
	}
}
func (c Callbacks) fireStepStart(n int, ids, tasks []string) {
	if c.OnStepStart != nil {
		c.OnStepStart(n, ids, tasks)
	}
}
func (c Callbacks) fireTaskStart(n int, id string) {
	if c.OnTaskStart != nil {
		c.OnTaskStart(n, id)
	}
}
func (c Callbacks) fireTaskChunk(n int, id, content string, done bool) {
	if c.OnTaskChunk != nil {
		c.OnTaskChunk(n, id, content, done)
	}
}
func (c Callbacks) fireTaskEnd(n int, id string, result *agent.TaskResult, status string) {
	if c.OnTaskEnd != nil {
		c.OnTaskEnd(n, id, result, status)
	}
}
func (c Callbacks) fireStepEnd(n int) {
	if c.OnStepEnd != nil {
		c.OnStepEnd(n)
	}
}
func (c Callbacks) fireFinish(answer string) {
	if c.OnFinish != nil {
		c.OnFinish(answer)
	}
}
func (c Callbacks) fireError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
