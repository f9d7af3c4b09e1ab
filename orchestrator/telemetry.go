package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentation bundles the optional OpenTelemetry tracer and metric
// instruments used to emit step/task spans and duration/failure metrics.
// A nil *instrumentation (the zero value produced when no tracer or meter
// is configured) makes every method below a no-op, so Loop and
// StepExecutor never need to branch on whether telemetry is wired.
type instrumentation struct {
	tracer        trace.Tracer
	stepDuration  metric.Float64Histogram
	taskDuration  metric.Float64Histogram
	parseFailures metric.Int64Counter
}

// newInstrumentation builds an *instrumentation from an optional tracer
// and meter. Either may be nil; if both are, it returns nil.
func newInstrumentation(tracer trace.Tracer, meter metric.Meter) *instrumentation {
	if tracer == nil && meter == nil {
		return nil
	}

	inst := &instrumentation{tracer: tracer}
	if meter != nil {
		inst.stepDuration, _ = meter.Float64Histogram("orchestrator.step.duration_ms")
		inst.taskDuration, _ = meter.Float64Histogram("orchestrator.task.duration_ms")
		inst.parseFailures, _ = meter.Int64Counter("orchestrator.directive.parse_failures")
	}
	return inst
}

// startStep opens a step span (if a tracer is configured) and returns a
// context plus an end func that closes the span and records step
// duration.
func (i *instrumentation) startStep(ctx context.Context, stepNumber int) (context.Context, func()) {
	if i == nil {
		return ctx, func() {}
	}

	start := time.Now()
	var span trace.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, "orchestrator.step", trace.WithAttributes(attribute.Int("step.number", stepNumber)))
	}

	return ctx, func() {
		if span != nil {
			span.End()
		}
		if i.stepDuration != nil {
			i.stepDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.Int("step.number", stepNumber)))
		}
	}
}

// startTask opens a task span and returns a context plus an end func that
// closes the span and records task duration, tagged with the outcome
// status.
func (i *instrumentation) startTask(ctx context.Context, taskID, agentName string) (context.Context, func(status string)) {
	if i == nil {
		return ctx, func(string) {}
	}

	start := time.Now()
	var span trace.Span
	if i.tracer != nil {
		ctx, span = i.tracer.Start(ctx, "orchestrator.task", trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.agent", agentName),
		))
	}

	return ctx, func(status string) {
		if span != nil {
			span.SetAttributes(attribute.String("task.status", status))
			span.End()
		}
		if i.taskDuration != nil {
			i.taskDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("task.agent", agentName),
				attribute.String("task.status", status),
			))
		}
	}
}

// recordParseFailure increments the directive-parse-failure counter.
func (i *instrumentation) recordParseFailure(ctx context.Context) {
	if i == nil || i.parseFailures == nil {
		return
	}
	i.parseFailures.Add(ctx, 1)
}
