package run

import "fmt"

// Guard rule names.
const (
	RuleDenial        = "policy_denial"
	RuleFailureStreak = "failure_streak"
	RuleSignature     = "failure_signature"
	RuleRepetition    = "no_progress"
)

// StopSignal is the guard's verdict over recent history.
type StopSignal struct {
	Stop     bool   `json:"stop"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`
}

// Rule is one stop condition over the most recent steps, oldest first.
type Rule interface {
	Name() string
	// Window is the number of trailing steps the rule inspects.
	Window() int
	Check(tail []Step) StopSignal
}

// Guard evaluates its rules in order; the first rule that fires wins.
// Evaluation is pure: the same tail always yields the same signal.
type Guard struct {
	rules []Rule
}

// NewGuard creates a Guard from rules.
func NewGuard(rules ...Rule) *Guard {
	return &Guard{rules: rules}
}

// GuardConfig parameterizes the default rule set.
type GuardConfig struct {
	FailureStreak      int
	SignatureWindow    int
	SignatureThreshold int
	Signatures         []Signature
	// RepeatThreshold enables the no-progress rule when > 0.
	RepeatThreshold int
}

// DefaultGuardConfig returns the stock thresholds.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		FailureStreak:      3,
		SignatureWindow:    10,
		SignatureThreshold: 2,
		Signatures:         DefaultSignatures(),
		RepeatThreshold:    3,
	}
}

// NewDefaultGuard builds the standard rule chain: denial, failure streak,
// failure signature and, when enabled, repetition.
func NewDefaultGuard(cfg GuardConfig) *Guard {
	if cfg.FailureStreak <= 0 {
		cfg.FailureStreak = 3
	}
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = 10
	}
	if cfg.SignatureThreshold <= 0 {
		cfg.SignatureThreshold = 2
	}
	if cfg.Signatures == nil {
		cfg.Signatures = DefaultSignatures()
	}
	rules := []Rule{
		DenialRule{},
		FailureStreakRule{N: cfg.FailureStreak},
		SignatureRule{M: cfg.SignatureWindow, Threshold: cfg.SignatureThreshold, Signatures: cfg.Signatures},
	}
	if cfg.RepeatThreshold > 0 {
		rules = append(rules, RepetitionRule{Threshold: cfg.RepeatThreshold})
	}
	return NewGuard(rules...)
}

// Window returns the longest tail any rule inspects.
func (g *Guard) Window() int {
	w := 1
	for _, r := range g.rules {
		w = max(w, r.Window())
	}
	return w
}

// Evaluate returns the first firing rule's signal, or a zero signal.
func (g *Guard) Evaluate(tail []Step) StopSignal {
	if len(tail) == 0 {
		return StopSignal{}
	}
	for _, r := range g.rules {
		if sig := r.Check(lastN(tail, r.Window())); sig.Stop {
			sig.Rule = r.Name()
			return sig
		}
	}
	return StopSignal{}
}

// ShouldStop reports whether any rule fires on tail.
func (g *Guard) ShouldStop(tail []Step) bool {
	return g.Evaluate(tail).Stop
}

func lastN(steps []Step, n int) []Step {
	if n <= 0 || len(steps) <= n {
		return steps
	}
	return steps[len(steps)-n:]
}

// DenialRule stops as soon as policy refuses the latest command.
type DenialRule struct{}

func (DenialRule) Name() string { return RuleDenial }
func (DenialRule) Window() int  { return 1 }

func (DenialRule) Check(tail []Step) StopSignal {
	last := tail[len(tail)-1]
	if !last.Denied() {
		return StopSignal{}
	}
	return StopSignal{
		Stop:   true,
		Reason: fmt.Sprintf("policy denied %q: %s", last.Command, last.Verdict.Reason),
	}
}

// FailureStreakRule stops when the last N steps all executed and failed.
type FailureStreakRule struct {
	N int
}

func (r FailureStreakRule) Name() string { return RuleFailureStreak }
func (r FailureStreakRule) Window() int  { return r.N }

func (r FailureStreakRule) Check(tail []Step) StopSignal {
	if r.N <= 0 || len(tail) < r.N {
		return StopSignal{}
	}
	for _, s := range tail[len(tail)-r.N:] {
		if !s.Failed() {
			return StopSignal{}
		}
	}
	return StopSignal{
		Stop:   true,
		Reason: fmt.Sprintf("the last %d commands all failed", r.N),
	}
}
