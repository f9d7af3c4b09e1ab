package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowmind/orchestrator/agent"
	"github.com/flowmind/orchestrator/core"
	"github.com/flowmind/orchestrator/directive"
)

// Thinker produces the next raw directive text given an assembled prompt.
// A gateway.GatewayClient (or any other callable) satisfies this without
// the orchestrator package needing to import gateway.
type Thinker interface {
	Think(ctx context.Context, prompt string) (string, error)
}

// Loop drives the adaptive Think→Execute cycle (spec §4.1).
type Loop struct {
	thinker  Thinker
	resolver AgentResolver
	executor *StepExecutor
	logger   core.Logger
	inst     *instrumentation
}

// LoopOption configures optional Loop behavior.
type LoopOption func(*Loop)

// WithTelemetry wires an OpenTelemetry tracer and/or meter into the loop
// and its Step Executor, emitting a span per step/task and recording
// step/task duration plus directive-parse-failure counts. Either
// argument may be nil.
func WithTelemetry(tracer trace.Tracer, meter metric.Meter) LoopOption {
	return func(l *Loop) {
		l.inst = newInstrumentation(tracer, meter)
		l.executor.inst = l.inst
	}
}

// NewLoop builds a Loop. resolver is used to route execute-directive
// tasks to adapters.
func NewLoop(thinker Thinker, resolver AgentResolver, logger core.Logger, opts ...LoopOption) *Loop {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	l := &Loop{
		thinker:  thinker,
		resolver: resolver,
		executor: NewStepExecutor(resolver),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const forcedFinishSuffix = "\n\nYou have used all available steps. Respond now with a finish directive containing your best answer given the results so far."

const reformatSuffix = "\n\nYour previous response could not be parsed as a directive. Respond again with ONLY a single JSON object of the form {\"action\":\"execute\",\"tasks\":[...]} or {\"action\":\"finish\",\"answer\":\"...\"}."

// Run executes one Run to completion: thinking, executing, and thinking
// again, until the thinker emits a finish directive or the step budget is
// exhausted (spec §4.1).
func (l *Loop) Run(ctx context.Context, runID, goal string, opts Options, cb Callbacks) *Run {
	opts = opts.withDefaults()
	run := &Run{
		RunID:     runID,
		Goal:      goal,
		State:     RunThinking,
		StartedAt: time.Now(),
	}

	for stepNumber := 1; stepNumber <= opts.MaxSteps; stepNumber++ {
		cb.fireThinking(stepNumber)

		d, err := l.think(ctx, l.buildContext(run, goal, opts), cb)
		if err != nil {
			l.fail(run, err, cb)
			return run
		}

		if d.Action == directive.ActionFinish {
			l.finish(run, d.Answer, cb)
			return run
		}

		run.State = RunExecuting
		step := l.buildStep(stepNumber, d)
		run.Steps = append(run.Steps, step)

		ids := make([]string, len(step.Tasks))
		texts := make([]string, len(step.Tasks))
		for i, t := range step.Tasks {
			ids[i] = t.ID
			texts[i] = t.Task
		}
		cb.fireStepStart(stepNumber, ids, texts)
		stepCtx, endStep := l.inst.startStep(ctx, stepNumber)
		l.executor.Execute(stepCtx, step, opts.MaxConcurrency, stepNumber, cb)
		endStep()
		cb.fireStepEnd(stepNumber)

		run.State = RunThinking
	}

	// Step budget exhausted without a finish directive: force one more
	// thinking call asking explicitly for a final answer (spec §4.1 "forced
	// finish").
	forced, err := l.think(ctx, l.buildContext(run, goal, opts)+forcedFinishSuffix, cb)
	if err == nil && forced.Action == directive.ActionFinish {
		l.finish(run, forced.Answer, cb)
		return run
	}

	l.finish(run, l.emergencySynthesize(run), cb)
	return run
}

// think parses the thinker's raw output into a Directive, retrying once
// with a reformat request on a parse/validation failure (spec §4.2 stage
// 4 — the retry the pure parser can't perform itself).
func (l *Loop) think(ctx context.Context, prompt string, cb Callbacks) (*directive.Directive, error) {
	raw, err := l.thinker.Think(ctx, prompt)
	if err != nil {
		return nil, err
	}

	d, err := directive.Parse(raw)
	if err == nil {
		return d, nil
	}

	l.inst.recordParseFailure(ctx)
	l.logger.Warn("directive parse failed, retrying with reformat request", map[string]interface{}{"error": err.Error()})
	raw2, err2 := l.thinker.Think(ctx, prompt+reformatSuffix)
	if err2 != nil {
		return nil, err
	}
	d2, err2 := directive.Parse(raw2)
	if err2 != nil {
		l.inst.recordParseFailure(ctx)
		return nil, err
	}
	return d2, nil
}

// renderRoster builds the system-prompt prefix naming every registered
// agent, so the thinker knows what it can route tasks to (spec §4.1 step
// 2a). An empty registry renders an empty string rather than a
// misleading "no agents" line.
func (l *Loop) renderRoster() string {
	if l.resolver == nil {
		return ""
	}
	adapters := l.resolver.All()
	if len(adapters) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, a := range adapters {
		fmt.Fprintf(&b, "- %s (%s)", a.Name(), a.Type())
		if d, ok := a.(agent.Describable); ok {
			if desc := d.Description(); desc != "" {
				fmt.Fprintf(&b, ": %s", desc)
			}
			if caps := d.Capabilities(); len(caps) > 0 {
				fmt.Fprintf(&b, " [capabilities: %s]", strings.Join(caps, ", "))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (l *Loop) buildStep(stepNumber int, d *directive.Directive) *Step {
	tasks := make([]*StepTask, len(d.Tasks))
	for i, t := range d.Tasks {
		tasks[i] = &StepTask{ID: t.ID, Task: t.Task, Agent: t.Agent, Status: TaskPending}
	}
	return &Step{StepNumber: stepNumber, Tasks: tasks}
}

// buildContext assembles the prompt fed to the thinker: a system prompt
// naming the available agents, followed by the goal, followed by every
// prior step's task outputs, each truncated to opts.OutputTruncation
// characters (spec §4.1 step 2a: "system-prompt(agent roster) + \"Goal:
// \" + goal + accumulated-steps-transcript").
func (l *Loop) buildContext(run *Run, goal string, opts Options) string {
	var b strings.Builder
	b.WriteString(l.renderRoster())
	b.WriteString("Goal: ")
	b.WriteString(goal)

	for _, step := range run.Steps {
		fmt.Fprintf(&b, "\n\nStep %d results:", step.StepNumber)
		for _, t := range step.Tasks {
			output := ""
			if t.Result != nil {
				output = t.Result.Output
			}
			output = truncate(output, opts.OutputTruncation)
			fmt.Fprintf(&b, "\n- task %s (%s): %s", t.ID, t.Status, output)
		}
	}

	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max]) + "…(truncated)"
}

// emergencySynthesize builds a fallback answer from whatever tasks
// completed successfully, or the literal fallback string when nothing
// did (spec §4.1).
func (l *Loop) emergencySynthesize(run *Run) string {
	var b strings.Builder
	for _, step := range run.Steps {
		for _, t := range step.Tasks {
			if t.Status == TaskDone && t.Result != nil && t.Result.Status == agent.StatusOK {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(t.Result.Output)
			}
		}
	}
	if b.Len() == 0 {
		return "No results collected."
	}
	return b.String()
}

func (l *Loop) finish(run *Run, answer string, cb Callbacks) {
	run.FinalAnswer = answer
	run.State = RunDone
	now := time.Now()
	run.FinishedAt = &now
	cb.fireFinish(answer)
}

func (l *Loop) fail(run *Run, err error, cb Callbacks) {
	run.Error = err.Error()
	run.State = RunError
	now := time.Now()
	run.FinishedAt = &now
	cb.fireError(err)
}
