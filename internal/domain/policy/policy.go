// Package policy decides whether a proposed shell command may run on a
// remote host. A Profile lists the forbidden constructs and the allowlisted
// command prefixes; a Classifier compiled from it produces a Verdict for
// every command. Anything not explicitly allowlisted is denied.
package policy

// Decision is the outcome of classifying a command.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Tag marks an allowed command as read-only or state-changing.
type Tag string

const (
	TagReadOnly Tag = "readonly"
	TagChange   Tag = "change"
)

// Rule names the classification stage that produced a verdict.
type Rule string

const (
	RuleEmpty        Rule = "empty"
	RuleChainToken   Rule = "chain_token"
	RuleDenyPattern  Rule = "deny_pattern"
	RuleReadOnly     Rule = "readonly_prefix"
	RuleChange       Rule = "change_prefix"
	RuleNotAllowlist Rule = "not_allowlisted"
)

// DenyPattern is a named regular expression for a dangerous construct.
// The pattern is searched anywhere in the command.
type DenyPattern struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

// Profile is a named, YAML-loadable classification policy.
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// ChainTokens are substrings that make a command compound
	// (sequencing, pipelines, substitution). Any occurrence denies.
	ChainTokens []string `yaml:"chain_tokens" json:"chain_tokens"`

	// DenyPatterns are checked after ChainTokens and before the allowlists.
	DenyPatterns []DenyPattern `yaml:"deny_patterns" json:"deny_patterns"`

	// ReadOnly and Change are allowlisted command prefixes. An entry matches
	// when the command equals it or continues with whitespace after it.
	// An entry ending in whitespace matches as a plain prefix.
	ReadOnly []string `yaml:"readonly" json:"readonly"`
	Change   []string `yaml:"change" json:"change"`

	// NormalizeApt rewrites allowed apt-get invocations to run
	// non-interactively under sudo before execution.
	NormalizeApt bool `yaml:"normalize_apt,omitempty" json:"normalize_apt,omitempty"`
}

// Verdict is the classification result for one command.
type Verdict struct {
	Decision Decision `json:"decision"`
	Tag      Tag      `json:"tag,omitempty"`
	Rule     Rule     `json:"rule"`
	Matched  string   `json:"matched,omitempty"`
	Reason   string   `json:"reason"`
}

// Allowed reports whether the verdict permits execution.
func (v Verdict) Allowed() bool {
	return v.Decision == DecisionAllow
}
