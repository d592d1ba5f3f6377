package litellm

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/Strob0t/opsloop/internal/domain/run"
	"github.com/Strob0t/opsloop/internal/port/oracle"
)

const systemPrompt = `You are an autonomous assistant to a Linux system administrator.
You have exactly one tool: running ONE shell command per turn on a remote server.
The tool is already connected to that server as the configured user.

Your job is to reach the operator's goal by collecting facts first and then
applying the least risky change that helps.

The command you return runs ON THE SERVER. Therefore never use:
- ssh, scp or sftp
- user@host or any other host or user name
- quotes around the whole command
- &&, ||, ;, pipes, redirections or command substitution

Rules:
- Diagnose with read-only commands before changing anything.
- Never propose destructive commands (rm -rf, mkfs, dd, firewall flushes, reboot, shutdown and similar).
- If unsure, collect more facts.
- After a change, verify its effect.
- Commands outside the allowlist are rejected and end the run.

Answer with ONLY a JSON object of this form:
{
  "rationale": "why this step, briefly",
  "next_command": "one command",
  "success_criteria": "how we will know the step helped",
  "stop": false
}
When the goal is reached or no safe progress is possible, answer with
"stop": true and "next_command": "".`

const policyNote = "Commands outside the allowlist will be rejected."

// historyStep is one recent step as the model sees it.
type historyStep struct {
	Index           int    `json:"index"`
	Command         string `json:"command"`
	Executed        string `json:"executed,omitempty"`
	Verdict         string `json:"verdict"`
	Reason          string `json:"reason,omitempty"`
	ExitStatus      *int   `json:"exit_status,omitempty"`
	OK              bool   `json:"ok"`
	Stdout          string `json:"stdout,omitempty"`
	Stderr          string `json:"stderr,omitempty"`
	Error           string `json:"error,omitempty"`
	Rationale       string `json:"rationale,omitempty"`
	SuccessCriteria string `json:"success_criteria,omitempty"`
}

type planPayload struct {
	Goal            string        `json:"goal"`
	Host            string        `json:"host"`
	User            string        `json:"user"`
	Profile         string        `json:"policy_profile,omitempty"`
	RecentSteps     []historyStep `json:"recent_steps"`
	PolicyNote      string        `json:"policy_note"`
	RemainingBudget int           `json:"remaining_budget"`
}

// buildMessages renders the system prompt and the JSON context for one
// planning call. Output excerpts are cut to the configured sizes and passed
// through redact.
func buildMessages(pc oracle.PlanContext, stdoutChars, stderrChars int, redact func(string) string) ([]Message, error) {
	payload := planPayload{
		Goal:            pc.Goal,
		Host:            pc.Target.Host,
		User:            pc.Target.User,
		Profile:         pc.Profile,
		RecentSteps:     make([]historyStep, 0, len(pc.Recent)),
		PolicyNote:      policyNote,
		RemainingBudget: pc.Remaining,
	}
	for _, s := range pc.Recent {
		payload.RecentSteps = append(payload.RecentSteps, toHistory(s, stdoutChars, stderrChars, redact))
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal plan context: %w", err)
	}
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Context:\n" + string(data)},
	}, nil
}

func toHistory(s run.Step, stdoutChars, stderrChars int, redact func(string) string) historyStep {
	h := historyStep{
		Index:           s.Index,
		Command:         redact(s.Command),
		Verdict:         string(s.Verdict.Decision),
		Rationale:       s.Rationale,
		SuccessCriteria: s.SuccessCriteria,
	}
	if s.Executed != s.Command {
		h.Executed = redact(s.Executed)
	}
	if s.Denied() {
		h.Reason = s.Verdict.Reason
		return h
	}
	if o := s.Outcome; o != nil {
		h.ExitStatus = o.ExitStatus
		h.OK = o.Success
		h.Stdout = truncate(redact(o.Stdout), stdoutChars)
		h.Stderr = truncate(redact(o.Stderr), stderrChars)
		h.Error = redact(o.Error)
	}
	return h
}

// truncate keeps at most n runes of s. n <= 0 keeps everything.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
