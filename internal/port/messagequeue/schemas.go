package messagequeue

import "time"

// RunStartedPayload is the schema for opsloop.runs.started messages.
type RunStartedPayload struct {
	RunID   string    `json:"run_id"`
	Goal    string    `json:"goal"`
	Host    string    `json:"host"`
	User    string    `json:"user"`
	Profile string    `json:"profile"`
	Budget  int       `json:"budget"`
	At      time.Time `json:"at"`
}

// StepPayload is the schema for opsloop.runs.step messages.
type StepPayload struct {
	RunID      string `json:"run_id"`
	Index      int    `json:"index"`
	Command    string `json:"command"`
	Decision   string `json:"decision"`
	Tag        string `json:"tag,omitempty"`
	Reason     string `json:"reason"`
	ExitStatus *int   `json:"exit_status,omitempty"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}

// RunFinishedPayload is the schema for opsloop.runs.finished messages.
type RunFinishedPayload struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	StopReason string `json:"stop_reason"`
	StopRule   string `json:"stop_rule,omitempty"`
	Steps      int    `json:"steps"`
	DurationMS int64  `json:"duration_ms"`
}
