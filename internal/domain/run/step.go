package run

import (
	"time"

	"github.com/Strob0t/opsloop/internal/domain/policy"
)

// Outcome is the result of executing one command remotely.
// ExitStatus is nil when no exit status was obtained (timeout, lost channel).
type Outcome struct {
	ExitStatus      *int          `json:"exit_status"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
	Success         bool          `json:"success"`
	TimedOut        bool          `json:"timed_out,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// ExitCode returns the exit status and whether one was obtained.
func (o Outcome) ExitCode() (int, bool) {
	if o.ExitStatus == nil {
		return 0, false
	}
	return *o.ExitStatus, true
}

// ExitedWith builds a completed Outcome. Success is derived from status.
func ExitedWith(status int, stdout, stderr string, d time.Duration) Outcome {
	return Outcome{
		ExitStatus: &status,
		Stdout:     stdout,
		Stderr:     stderr,
		Duration:   d,
		Success:    status == 0,
	}
}

// Failed builds an Outcome for a command that produced no exit status.
func Failed(err error, d time.Duration) Outcome {
	o := Outcome{Duration: d}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Step is one ledger entry: a proposed command, its policy verdict and,
// when allowed, its outcome. Denied steps never carry an outcome.
type Step struct {
	Index           int            `json:"index"`
	Command         string         `json:"command"`
	Executed        string         `json:"executed,omitempty"`
	Verdict         policy.Verdict `json:"verdict"`
	Outcome         *Outcome       `json:"outcome,omitempty"`
	Rationale       string         `json:"rationale,omitempty"`
	SuccessCriteria string         `json:"success_criteria,omitempty"`
	At              time.Time      `json:"at"`
}

// Denied reports whether policy refused the command.
func (s Step) Denied() bool {
	return !s.Verdict.Allowed()
}

// Failed reports whether the command ran and did not succeed.
func (s Step) Failed() bool {
	return !s.Denied() && s.Outcome != nil && !s.Outcome.Success
}
