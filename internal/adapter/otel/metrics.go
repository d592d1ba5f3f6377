package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/opsloop/internal/domain/run"
)

const meterName = "opsloop"

// Metrics holds all opsloop metric instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	RunsStarted     metric.Int64Counter
	RunsFinished    metric.Int64Counter
	Steps           metric.Int64Counter
	Denials         metric.Int64Counter
	GuardStops      metric.Int64Counter
	CommandDuration metric.Float64Histogram
	RunDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments on mp, or on the global
// provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("opsloop.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsFinished, err = meter.Int64Counter("opsloop.runs.finished",
		metric.WithDescription("Number of runs finished, by status"))
	if err != nil {
		return nil, err
	}

	m.Steps, err = meter.Int64Counter("opsloop.steps",
		metric.WithDescription("Number of ledger steps, by decision and tag"))
	if err != nil {
		return nil, err
	}

	m.Denials, err = meter.Int64Counter("opsloop.policy.denials",
		metric.WithDescription("Number of commands denied by policy, by rule"))
	if err != nil {
		return nil, err
	}

	m.GuardStops, err = meter.Int64Counter("opsloop.guard.stops",
		metric.WithDescription("Number of runs stopped by the loop guard, by rule"))
	if err != nil {
		return nil, err
	}

	m.CommandDuration, err = meter.Float64Histogram("opsloop.command.duration_seconds",
		metric.WithDescription("Remote command duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("opsloop.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted counts a new run.
func (m *Metrics) RunStarted(ctx context.Context, profile string) {
	if m == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("profile", profile)))
}

// StepRecorded counts a ledger step and, for executed commands, records
// their duration.
func (m *Metrics) StepRecorded(ctx context.Context, s run.Step) {
	if m == nil {
		return
	}
	m.Steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", string(s.Verdict.Decision)),
		attribute.String("tag", string(s.Verdict.Tag)),
	))
	if s.Denied() {
		m.Denials.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", string(s.Verdict.Rule))))
		return
	}
	if s.Outcome != nil {
		m.CommandDuration.Record(ctx, s.Outcome.Duration.Seconds(), metric.WithAttributes(
			attribute.Bool("success", s.Outcome.Success),
			attribute.Bool("timed_out", s.Outcome.TimedOut),
		))
	}
}

// RunFinished counts a terminal run and its guard rule, if any.
func (m *Metrics) RunFinished(ctx context.Context, r *run.Run, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(r.Status))))
	if r.Status == run.StatusGuardStopped {
		m.GuardStops.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", r.StopRule)))
	}
	m.RunDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", string(r.Status))))
}
