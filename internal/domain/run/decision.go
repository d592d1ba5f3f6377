package run

// DefaultFallbackCommand is executed when the planning oracle returns
// something that is not a well-formed decision.
const DefaultFallbackCommand = "uname -a"

// Decision is the planning oracle's proposal for the next step.
type Decision struct {
	Rationale       string `json:"rationale"`
	NextCommand     string `json:"next_command"`
	SuccessCriteria string `json:"success_criteria"`
	Stop            bool   `json:"stop"`
}

// FallbackDecision returns the safe default used in place of a malformed
// oracle response. It never stops the run.
func FallbackDecision(command string) Decision {
	if command == "" {
		command = DefaultFallbackCommand
	}
	return Decision{
		Rationale:       "oracle response was not a well-formed decision; collecting basic system information instead",
		NextCommand:     command,
		SuccessCriteria: "command output is returned",
		Stop:            false,
	}
}
