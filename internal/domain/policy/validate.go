package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Strob0t/opsloop/internal/domain"
)

// Validate checks that a Profile is well-formed.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: policy: name is required", domain.ErrValidation)
	}
	if len(p.ReadOnly) == 0 && len(p.Change) == 0 {
		return fmt.Errorf("%w: policy %s: at least one allowlist entry is required", domain.ErrValidation, p.Name)
	}
	for i, tok := range p.ChainTokens {
		if tok == "" {
			return fmt.Errorf("%w: policy %s: chain_tokens[%d] is empty", domain.ErrValidation, p.Name, i)
		}
	}
	for i, dp := range p.DenyPatterns {
		if dp.Name == "" {
			return fmt.Errorf("%w: policy %s: deny_patterns[%d]: name is required", domain.ErrValidation, p.Name, i)
		}
		if _, err := regexp.Compile(dp.Pattern); err != nil || dp.Pattern == "" {
			return fmt.Errorf("%w: policy %s: deny_patterns[%d] %s: invalid pattern %q", domain.ErrValidation, p.Name, i, dp.Name, dp.Pattern)
		}
	}
	if err := validateEntries(p.Name, "readonly", p.ReadOnly); err != nil {
		return err
	}
	return validateEntries(p.Name, "change", p.Change)
}

func validateEntries(profile, field string, entries []string) error {
	for i, e := range entries {
		if strings.TrimSpace(e) == "" {
			return fmt.Errorf("%w: policy %s: %s[%d] is blank", domain.ErrValidation, profile, field, i)
		}
		if e != strings.TrimLeft(e, " \t") {
			return fmt.Errorf("%w: policy %s: %s[%d] %q has leading whitespace", domain.ErrValidation, profile, field, i, e)
		}
	}
	return nil
}
