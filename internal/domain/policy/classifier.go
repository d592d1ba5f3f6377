package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// Classifier evaluates commands against a compiled Profile.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	profile      string
	tokens       []string
	patterns     []compiledPattern
	readonly     []string
	change       []string
	normalizeApt bool
}

// NewClassifier validates p and compiles its deny patterns.
func NewClassifier(p Profile) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		profile:      p.Name,
		tokens:       append([]string(nil), p.ChainTokens...),
		readonly:     append([]string(nil), p.ReadOnly...),
		change:       append([]string(nil), p.Change...),
		normalizeApt: p.NormalizeApt,
	}
	for _, dp := range p.DenyPatterns {
		re, err := regexp.Compile(dp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy %s: deny pattern %s: %w", p.Name, dp.Name, err)
		}
		c.patterns = append(c.patterns, compiledPattern{name: dp.Name, re: re})
	}
	return c, nil
}

// Profile returns the name of the profile the classifier was built from.
func (c *Classifier) Profile() string {
	return c.profile
}

// Classify returns the verdict for command. Stages run in a fixed order and
// the first match wins: empty input, chaining tokens, deny patterns,
// read-only prefixes, change prefixes. A command matching none is denied.
func (c *Classifier) Classify(command string) Verdict {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return Verdict{Decision: DecisionDeny, Rule: RuleEmpty, Reason: "empty command"}
	}

	for _, tok := range c.tokens {
		if strings.Contains(cmd, tok) {
			return Verdict{
				Decision: DecisionDeny,
				Rule:     RuleChainToken,
				Matched:  tok,
				Reason:   fmt.Sprintf("compound command: token %q is not allowed, send one command per step", tok),
			}
		}
	}

	for _, p := range c.patterns {
		if p.re.MatchString(cmd) {
			return Verdict{
				Decision: DecisionDeny,
				Rule:     RuleDenyPattern,
				Matched:  p.name,
				Reason:   fmt.Sprintf("matches deny pattern %s", p.name),
			}
		}
	}

	if prefix, ok := matchPrefix(cmd, c.readonly); ok {
		return Verdict{
			Decision: DecisionAllow,
			Tag:      TagReadOnly,
			Rule:     RuleReadOnly,
			Matched:  prefix,
			Reason:   fmt.Sprintf("read-only prefix %q", prefix),
		}
	}
	if prefix, ok := matchPrefix(cmd, c.change); ok {
		return Verdict{
			Decision: DecisionAllow,
			Tag:      TagChange,
			Rule:     RuleChange,
			Matched:  prefix,
			Reason:   fmt.Sprintf("change prefix %q", prefix),
		}
	}

	return Verdict{Decision: DecisionDeny, Rule: RuleNotAllowlist, Reason: "command is not in any allowlist"}
}

// matchPrefix returns the first entry cmd starts with on a word boundary.
func matchPrefix(cmd string, entries []string) (string, bool) {
	for _, e := range entries {
		if e == "" {
			continue
		}
		if !strings.HasPrefix(cmd, e) {
			continue
		}
		if len(cmd) == len(e) {
			return e, true
		}
		last := rune(e[len(e)-1])
		next := rune(cmd[len(e)])
		if unicode.IsSpace(last) || unicode.IsSpace(next) {
			return e, true
		}
	}
	return "", false
}
