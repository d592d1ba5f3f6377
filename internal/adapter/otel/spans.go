package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Strob0t/opsloop/internal/domain/run"
)

const tracerName = "opsloop"

// StartRunSpan starts a span covering one run.
func StartRunSpan(ctx context.Context, runID string, target run.Target, profile string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.host", target.Host),
			attribute.String("run.user", target.User),
			attribute.String("policy.profile", profile),
		),
	)
}

// StartPlanSpan starts a span for one oracle call.
func StartPlanSpan(ctx context.Context, model string, remaining int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan",
		trace.WithAttributes(
			attribute.String("oracle.model", model),
			attribute.Int("run.remaining", remaining),
		),
	)
}

// StartStepSpan starts a span for classifying and executing one command.
func StartStepSpan(ctx context.Context, index int, command string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.Int("step.index", index),
			attribute.String("step.command", command),
		),
	)
}

// EndStepSpan annotates span with the recorded step and ends it.
func EndStepSpan(span trace.Span, s run.Step) {
	span.SetAttributes(
		attribute.String("policy.decision", string(s.Verdict.Decision)),
		attribute.String("policy.rule", string(s.Verdict.Rule)),
	)
	if o := s.Outcome; o != nil {
		if code, ok := o.ExitCode(); ok {
			span.SetAttributes(attribute.Int("step.exit_status", code))
		}
		if !o.Success {
			span.SetStatus(codes.Error, o.Error)
		}
	}
	span.End()
}

// EndRunSpan annotates span with the run's final status and ends it.
func EndRunSpan(span trace.Span, r *run.Run) {
	span.SetAttributes(
		attribute.String("run.status", string(r.Status)),
		attribute.String("run.stop_reason", r.StopReason),
		attribute.Int("run.steps", r.Ledger.Len()),
	)
	span.End()
}
