package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/opsloop/internal/adapter/otel"
	"github.com/Strob0t/opsloop/internal/config"
	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/domain/policy"
	"github.com/Strob0t/opsloop/internal/domain/run"
	"github.com/Strob0t/opsloop/internal/logger"
	"github.com/Strob0t/opsloop/internal/port/messagequeue"
	"github.com/Strob0t/opsloop/internal/port/oracle"
	"github.com/Strob0t/opsloop/internal/port/transport"
)

// maxLoggedRaw bounds how much of a malformed oracle answer is logged.
const maxLoggedRaw = 2000

// LoopConfig holds the control loop's limits.
type LoopConfig struct {
	MaxSteps        int
	HistoryWindow   int
	CommandTimeout  time.Duration
	FallbackCommand string
	Guard           run.GuardConfig
}

// LoopConfigFrom extracts the loop limits from the application config.
func LoopConfigFrom(cfg *config.Config) LoopConfig {
	g := run.DefaultGuardConfig()
	g.FailureStreak = cfg.Guard.FailureStreak
	g.SignatureWindow = cfg.Guard.SignatureWindow
	g.SignatureThreshold = cfg.Guard.SignatureThreshold
	g.RepeatThreshold = cfg.Guard.RepeatThreshold
	return LoopConfig{
		MaxSteps:        cfg.Run.MaxSteps,
		HistoryWindow:   cfg.Run.HistoryWindow,
		CommandTimeout:  cfg.SSH.CommandTimeout,
		FallbackCommand: cfg.Run.FallbackCommand,
		Guard:           g,
	}
}

// RunRequest describes one run against one host.
type RunRequest struct {
	ID         string // generated when empty
	Goal       string
	Descriptor transport.Descriptor
	Profile    string // empty selects the default profile
	MaxSteps   int    // 0 uses the configured budget
}

// LoopService drives runs: it asks the planning oracle for a command,
// classifies it, executes it when allowed, records the step and lets the
// loop guard decide whether to continue.
type LoopService struct {
	cfg     LoopConfig
	policy  *PolicyService
	planner oracle.Planner
	open    transport.Opener
	guard   *run.Guard
	queue   messagequeue.Queue
	metrics *otel.Metrics
	model   string
	now     func() time.Time
}

// NewLoopService creates a LoopService with all required dependencies.
func NewLoopService(cfg LoopConfig, policySvc *PolicyService, planner oracle.Planner, open transport.Opener) *LoopService {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 25
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 10 * time.Minute
	}
	if cfg.FallbackCommand == "" {
		cfg.FallbackCommand = run.DefaultFallbackCommand
	}
	return &LoopService{
		cfg:     cfg,
		policy:  policySvc,
		planner: planner,
		open:    open,
		guard:   run.NewDefaultGuard(cfg.Guard),
		queue:   messagequeue.Nop{},
		now:     time.Now,
	}
}

// SetQueue publishes run events to q.
func (s *LoopService) SetQueue(q messagequeue.Queue) {
	if q != nil {
		s.queue = q
	}
}

// SetMetrics records run metrics on m.
func (s *LoopService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// SetModel names the oracle model in run records.
func (s *LoopService) SetModel(model string) {
	s.model = model
}

// Run executes one run to completion. Configuration problems (missing
// goal, bad descriptor, unknown profile) return an error before any
// connection is made. Every other ending, including an unreachable oracle
// or cancellation, returns the finalized run and a nil error.
func (s *LoopService) Run(ctx context.Context, req RunRequest) (*run.Run, error) {
	req.Goal = strings.TrimSpace(req.Goal)
	if req.Goal == "" {
		return nil, fmt.Errorf("%w: goal is required", domain.ErrValidation)
	}
	if err := req.Descriptor.Validate(); err != nil {
		return nil, err
	}
	cls, err := s.policy.Classifier(req.Profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	budget := req.MaxSteps
	if budget == 0 {
		budget = s.cfg.MaxSteps
	}
	if budget < 1 {
		return nil, fmt.Errorf("%w: max steps must be at least 1, got %d", domain.ErrValidation, budget)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	exec, err := s.open(req.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	defer func() {
		if cerr := exec.Close(); cerr != nil {
			slog.Warn("transport close failed", "run_id", req.ID, "error", cerr)
		}
	}()

	r := run.New(req.ID, req.Goal, req.Descriptor.Target(), cls.Profile(), budget, s.now())
	r.Model = s.model

	ctx = logger.WithRunID(ctx, r.ID)
	ctx, span := otel.StartRunSpan(ctx, r.ID, r.Target, r.Profile)
	defer otel.EndRunSpan(span, r)

	slog.InfoContext(ctx, "run started",
		"host", r.Target.String(),
		"goal", r.Goal,
		"profile", r.Profile,
		"budget", r.Budget,
	)
	s.metrics.RunStarted(ctx, r.Profile)
	s.publishStarted(ctx, r)

	for !r.Terminal() {
		s.iterate(ctx, r, cls, exec)
	}

	d := r.Duration(s.now())
	slog.InfoContext(ctx, "run finished",
		"status", r.Status,
		"reason", r.StopReason,
		"rule", r.StopRule,
		"steps", r.Ledger.Len(),
		"duration", d,
	)
	s.metrics.RunFinished(ctx, r, d)
	s.publishFinished(ctx, r, d)
	return r, nil
}

// iterate performs one PLAN, EXECUTE, EVALUATE pass or finalizes the run.
func (s *LoopService) iterate(ctx context.Context, r *run.Run, cls *policy.Classifier, exec transport.Executor) {
	if err := ctx.Err(); err != nil {
		r.Finalize(run.StatusCancelled, "run cancelled: "+err.Error(), s.now())
		return
	}

	// PLAN
	if r.Remaining() <= 0 {
		r.Finalize(run.StatusBudgetExhausted, fmt.Sprintf("step budget of %d exhausted", r.Budget), s.now())
		return
	}
	decision, ok := s.plan(ctx, r)
	if !ok {
		return
	}
	if decision.Stop {
		reason := strings.TrimSpace(decision.Rationale)
		if reason == "" {
			reason = "oracle reported the goal as done"
		}
		r.Finalize(run.StatusGoalReached, reason, s.now())
		return
	}

	// EXECUTE
	step := s.execute(ctx, r, cls, exec, decision)
	recorded, err := r.Ledger.Append(step)
	if err != nil {
		// Only reachable if the ledger invariants are broken.
		slog.ErrorContext(ctx, "ledger append failed", "error", err)
		r.Finalize(run.StatusBudgetExhausted, "ledger rejected step: "+err.Error(), s.now())
		return
	}
	s.logStep(ctx, recorded)
	s.metrics.StepRecorded(ctx, recorded)
	s.publishStep(ctx, r, recorded)

	// EVALUATE
	if sig := s.guard.Evaluate(r.Ledger.Tail(s.guard.Window())); sig.Stop {
		slog.WarnContext(ctx, "loop guard stopped run", "rule", sig.Rule, "category", sig.Category, "reason", sig.Reason)
		r.Stopped(sig, s.now())
	}
}

// plan asks the oracle for the next decision. It returns false when the
// run was finalized instead.
func (s *LoopService) plan(ctx context.Context, r *run.Run) (run.Decision, bool) {
	pctx, span := otel.StartPlanSpan(ctx, r.Model, r.Remaining())
	defer span.End()

	resp, err := s.planner.Decide(pctx, oracle.PlanContext{
		RunID:     r.ID,
		Goal:      r.Goal,
		Target:    r.Target,
		Profile:   r.Profile,
		Budget:    r.Budget,
		Remaining: r.Remaining(),
		Recent:    r.Ledger.Tail(s.cfg.HistoryWindow),
	})
	switch {
	case err != nil && ctx.Err() != nil:
		r.Finalize(run.StatusCancelled, "run cancelled: "+ctx.Err().Error(), s.now())
		return run.Decision{}, false
	case err != nil:
		slog.ErrorContext(ctx, "oracle unavailable, finalizing run", "error", err)
		r.Finalize(run.StatusOracleUnavailable, "planning oracle unavailable: "+err.Error(), s.now())
		return run.Decision{}, false
	case !resp.WellFormed():
		slog.WarnContext(ctx, "malformed oracle response, using fallback command",
			"error", resp.Err,
			"raw", clip(resp.Raw, maxLoggedRaw),
			"fallback", s.cfg.FallbackCommand,
		)
		return run.FallbackDecision(s.cfg.FallbackCommand), true
	}
	return resp.Decision, true
}

// execute classifies the proposed command and runs it when allowed.
func (s *LoopService) execute(ctx context.Context, r *run.Run, cls *policy.Classifier, exec transport.Executor, d run.Decision) run.Step {
	sctx, span := otel.StartStepSpan(ctx, r.Ledger.Len()+1, d.NextCommand)
	step := run.Step{
		Command:         d.NextCommand,
		Rationale:       d.Rationale,
		SuccessCriteria: d.SuccessCriteria,
	}
	defer func() { otel.EndStepSpan(span, step) }()

	step.Verdict = s.policy.classify(sctx, cls, d.NextCommand)
	if !step.Verdict.Allowed() {
		step.At = s.now()
		return step
	}

	step.Executed = cls.Normalize(d.NextCommand)
	out, err := exec.Execute(sctx, step.Executed, s.cfg.CommandTimeout)
	if err != nil {
		slog.WarnContext(sctx, "command did not complete",
			"command", step.Executed,
			"timed_out", errors.Is(err, transport.ErrTimeout),
			"error", err,
		)
		out.Success = false
		out.ExitStatus = nil
		if out.Error == "" {
			out.Error = err.Error()
		}
	}
	step.Outcome = &out
	step.At = s.now()
	return step
}

func (s *LoopService) logStep(ctx context.Context, st run.Step) {
	attrs := []any{
		"step", st.Index,
		"command", st.Command,
		"verdict", st.Verdict.Decision,
		"rule", st.Verdict.Rule,
	}
	if st.Denied() {
		slog.InfoContext(ctx, "step denied", append(attrs, "reason", st.Verdict.Reason)...)
		return
	}
	if st.Executed != st.Command {
		attrs = append(attrs, "executed", st.Executed)
	}
	if code, ok := st.Outcome.ExitCode(); ok {
		attrs = append(attrs, "exit_status", code)
	}
	attrs = append(attrs,
		"ok", st.Outcome.Success,
		"duration", st.Outcome.Duration,
		"stdout_truncated", st.Outcome.StdoutTruncated,
	)
	slog.InfoContext(ctx, "step executed", attrs...)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
