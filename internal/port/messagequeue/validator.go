package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the payload
// associated with the given subject and carries a run ID. Unknown subjects
// only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var runID string
	switch subject {
	case SubjectRunStarted:
		var p RunStartedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		runID = p.RunID
	case SubjectRunStep:
		var p StepPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Index < 1 {
			return fmt.Errorf("schema validation failed for %s: index must be >= 1", subject)
		}
		runID = p.RunID
	case SubjectRunFinished:
		var p RunFinishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		runID = p.RunID
	default:
		return nil
	}

	if runID == "" {
		return fmt.Errorf("schema validation failed for %s: run_id is required", subject)
	}
	return nil
}
