package run

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/opsloop/internal/domain"
)

// ErrLedgerFull is returned when appending past the ledger's capacity.
var ErrLedgerFull = errors.New("ledger full")

// Ledger is the append-only, ordered record of a run's steps.
// It is owned by a single run and is not safe for concurrent use.
type Ledger struct {
	steps []Step
	limit int
}

// NewLedger returns an empty ledger holding at most limit steps.
// A non-positive limit means unbounded.
func NewLedger(limit int) *Ledger {
	return &Ledger{limit: limit}
}

// Append validates s, assigns its 1-based index and records it.
func (l *Ledger) Append(s Step) (Step, error) {
	if l.limit > 0 && len(l.steps) >= l.limit {
		return Step{}, fmt.Errorf("append step %d: %w", len(l.steps)+1, ErrLedgerFull)
	}
	if s.Denied() && s.Outcome != nil {
		return Step{}, fmt.Errorf("%w: denied step must not carry an outcome", domain.ErrValidation)
	}
	if !s.Denied() && s.Outcome == nil {
		return Step{}, fmt.Errorf("%w: allowed step requires an outcome", domain.ErrValidation)
	}
	s.Index = len(l.steps) + 1
	l.steps = append(l.steps, s)
	return s, nil
}

// Len returns the number of recorded steps.
func (l *Ledger) Len() int {
	return len(l.steps)
}

// Steps returns a copy of all steps in order.
func (l *Ledger) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Tail returns a copy of the last n steps, oldest first.
func (l *Ledger) Tail(n int) []Step {
	if n <= 0 {
		return nil
	}
	start := max(len(l.steps)-n, 0)
	out := make([]Step, len(l.steps)-start)
	copy(out, l.steps[start:])
	return out
}

// Last returns the most recent step.
func (l *Ledger) Last() (Step, bool) {
	if len(l.steps) == 0 {
		return Step{}, false
	}
	return l.steps[len(l.steps)-1], true
}

// MarshalJSON encodes the ledger as its step list.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Steps())
}

// UnmarshalJSON restores a ledger from its step list. The restored
// ledger is unbounded.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var steps []Step
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	l.steps = steps
	l.limit = 0
	return nil
}
