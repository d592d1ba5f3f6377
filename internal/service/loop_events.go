package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Strob0t/opsloop/internal/domain/run"
	"github.com/Strob0t/opsloop/internal/port/messagequeue"
)

// Event publishing is best effort: a broker problem is logged and never
// changes the course of a run.

func (s *LoopService) publishStarted(ctx context.Context, r *run.Run) {
	s.publish(ctx, messagequeue.SubjectRunStarted, messagequeue.RunStartedPayload{
		RunID:   r.ID,
		Goal:    r.Goal,
		Host:    r.Target.Host,
		User:    r.Target.User,
		Profile: r.Profile,
		Budget:  r.Budget,
		At:      r.StartedAt,
	})
}

func (s *LoopService) publishStep(ctx context.Context, r *run.Run, st run.Step) {
	p := messagequeue.StepPayload{
		RunID:    r.ID,
		Index:    st.Index,
		Command:  st.Command,
		Decision: string(st.Verdict.Decision),
		Tag:      string(st.Verdict.Tag),
		Reason:   st.Verdict.Reason,
	}
	if o := st.Outcome; o != nil {
		p.ExitStatus = o.ExitStatus
		p.Success = o.Success
		p.DurationMS = o.Duration.Milliseconds()
	}
	s.publish(ctx, messagequeue.SubjectRunStep, p)
}

func (s *LoopService) publishFinished(ctx context.Context, r *run.Run, d time.Duration) {
	s.publish(ctx, messagequeue.SubjectRunFinished, messagequeue.RunFinishedPayload{
		RunID:      r.ID,
		Status:     string(r.Status),
		StopReason: r.StopReason,
		StopRule:   r.StopRule,
		Steps:      r.Ledger.Len(),
		DurationMS: d.Milliseconds(),
	})
}

func (s *LoopService) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal event", "subject", subject, "error", err)
		return
	}
	// A cancelled run still reports how it ended.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.queue.Publish(pctx, subject, data); err != nil {
		slog.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
