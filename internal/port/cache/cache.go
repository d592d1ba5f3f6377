// Package cache defines the port interface for caching policy verdicts.
package cache

import "github.com/Strob0t/opsloop/internal/domain/policy"

// VerdictCache memoizes classification results per profile and command.
type VerdictCache interface {
	Get(profile, command string) (policy.Verdict, bool)
	Set(profile, command string, v policy.Verdict)
}

// Key joins profile and command into a single cache key. The separator
// cannot appear in a profile name.
func Key(profile, command string) string {
	return profile + "\x00" + command
}
