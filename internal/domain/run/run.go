// Package run models a single supervised run against one remote host: the
// planning decisions, the append-only step ledger, execution outcomes and
// the loop guard that stops runs which are not making progress.
package run

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusRunning           Status = "running"
	StatusGoalReached       Status = "goal_reached"
	StatusBudgetExhausted   Status = "budget_exhausted"
	StatusGuardStopped      Status = "guard_stopped"
	StatusOracleUnavailable Status = "oracle_unavailable"
	StatusCancelled         Status = "cancelled"
)

// Target identifies the remote host a run operates on.
type Target struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Address())
}

// Run is the state of one control-loop execution.
type Run struct {
	ID         string    `json:"id"`
	Goal       string    `json:"goal"`
	Target     Target    `json:"target"`
	Profile    string    `json:"profile"`
	Model      string    `json:"model,omitempty"`
	Budget     int       `json:"budget"`
	Status     Status    `json:"status"`
	StopReason string    `json:"stop_reason,omitempty"`
	StopRule   string    `json:"stop_rule,omitempty"`
	Category   string    `json:"category,omitempty"`
	Ledger     *Ledger   `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// New creates a running Run with an empty ledger sized for budget steps.
func New(id, goal string, target Target, profile string, budget int, now time.Time) *Run {
	return &Run{
		ID:        id,
		Goal:      goal,
		Target:    target,
		Profile:   profile,
		Budget:    budget,
		Status:    StatusRunning,
		Ledger:    NewLedger(budget + 1),
		StartedAt: now,
	}
}

// Remaining returns the number of steps left in the budget.
func (r *Run) Remaining() int {
	return max(r.Budget-r.Ledger.Len(), 0)
}

// Terminal reports whether the run has been finalized.
func (r *Run) Terminal() bool {
	return r.Status != StatusRunning
}

// Finalize moves the run to a terminal status. Only the first call has effect.
func (r *Run) Finalize(status Status, reason string, now time.Time) {
	if r.Terminal() {
		return
	}
	r.Status = status
	r.StopReason = reason
	r.FinishedAt = now
}

// Stopped finalizes the run from a guard stop signal.
func (r *Run) Stopped(sig StopSignal, now time.Time) {
	if r.Terminal() {
		return
	}
	r.StopRule = sig.Rule
	r.Category = sig.Category
	r.Finalize(StatusGuardStopped, sig.Reason, now)
}

// Duration returns the wall time of the run so far, or in total once finalized.
func (r *Run) Duration(now time.Time) time.Duration {
	if r.Terminal() {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
