package run

import (
	"fmt"
	"strings"
)

// Failure categories inferred from stderr of signature failures.
const (
	CategoryPrivilege  = "privilege"
	CategoryNetwork    = "network_or_repository"
	CategoryLock       = "resource_lock"
	CategoryUnknown    = "unknown"
	unknownExplanation = "insufficient privileges, unreachable repositories or network/DNS problems, or a held package manager lock"
)

// Signature describes a class of mutating command and the exit statuses
// that characterize its failure.
type Signature struct {
	Name string
	// Prefixes match the proposed command.
	Prefixes []string
	// ExitStatuses are the characteristic failure codes. Empty means any
	// non-zero status.
	ExitStatuses []int
}

// DefaultSignatures covers the package managers the default policy allows.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Name:         "apt-get",
			Prefixes:     []string{"apt-get update", "apt-get upgrade", "apt-get install", "apt-get remove"},
			ExitStatuses: []int{100, 1}, // 1: sudo -n without rights
		},
		{
			Name:         "dnf",
			Prefixes:     []string{"dnf update", "dnf install", "dnf remove"},
			ExitStatuses: []int{1},
		},
		{
			Name:         "yum",
			Prefixes:     []string{"yum update", "yum install", "yum remove"},
			ExitStatuses: []int{1},
		},
	}
}

func (s Signature) matches(st Step) (int, bool) {
	if st.Denied() || st.Outcome == nil || st.Outcome.Success {
		return 0, false
	}
	code, ok := st.Outcome.ExitCode()
	if !ok || code == 0 {
		return 0, false
	}
	cmd := strings.TrimSpace(st.Command)
	matched := false
	for _, p := range s.Prefixes {
		if strings.HasPrefix(cmd, p) {
			matched = true
			break
		}
	}
	if !matched {
		return 0, false
	}
	if len(s.ExitStatuses) == 0 {
		return code, true
	}
	for _, c := range s.ExitStatuses {
		if c == code {
			return code, true
		}
	}
	return 0, false
}

// SignatureRule stops when the same class of mutating command has failed
// with the same characteristic exit status at least Threshold times within
// the last M steps. The stop reason names the suspected cause.
type SignatureRule struct {
	M          int
	Threshold  int
	Signatures []Signature
}

func (r SignatureRule) Name() string { return RuleSignature }
func (r SignatureRule) Window() int  { return r.M }

type signatureKey struct {
	name string
	code int
}

func (r SignatureRule) Check(tail []Step) StopSignal {
	if r.Threshold <= 0 {
		return StopSignal{}
	}
	counts := make(map[signatureKey]int)
	stderr := make(map[signatureKey][]string)
	for i := len(tail) - 1; i >= 0; i-- {
		st := tail[i]
		for _, sig := range r.Signatures {
			code, ok := sig.matches(st)
			if !ok {
				continue
			}
			k := signatureKey{name: sig.Name, code: code}
			counts[k]++
			stderr[k] = append(stderr[k], st.Outcome.Stderr)
			if counts[k] < r.Threshold {
				continue
			}
			category := Categorize(stderr[k]...)
			return StopSignal{
				Stop:     true,
				Category: category,
				Reason: fmt.Sprintf("%s failed with exit status %d %d times in the last %d steps; suspected cause: %s",
					sig.Name, code, counts[k], r.M, explain(category)),
			}
		}
	}
	return StopSignal{}
}

var categoryMarkers = []struct {
	category string
	markers  []string
}{
	{CategoryLock, []string{
		"could not get lock",
		"unable to acquire the dpkg frontend lock",
		"dpkg was interrupted",
		"waiting for cache lock",
		"another app is currently holding the yum lock",
	}},
	{CategoryPrivilege, []string{
		"permission denied",
		"are you root",
		"a password is required",
		"is not in the sudoers file",
		"must be run as root",
		"this command has to be run with superuser privileges",
	}},
	{CategoryNetwork, []string{
		"temporary failure resolving",
		"could not resolve",
		"failed to fetch",
		"unable to locate package",
		"no match for argument",
		"cannot find a valid baseurl",
		"failed to download metadata",
		"connection timed out",
		"network is unreachable",
	}},
}

// Categorize infers the failure category from stderr texts, newest first.
func Categorize(stderrs ...string) string {
	for _, s := range stderrs {
		lower := strings.ToLower(s)
		for _, cm := range categoryMarkers {
			for _, m := range cm.markers {
				if strings.Contains(lower, m) {
					return cm.category
				}
			}
		}
	}
	return CategoryUnknown
}

func explain(category string) string {
	switch category {
	case CategoryPrivilege:
		return "insufficient privileges (sudo rights or root required)"
	case CategoryNetwork:
		return "repositories, network or DNS are unreachable or misconfigured"
	case CategoryLock:
		return "another process holds the package manager lock"
	default:
		return unknownExplanation
	}
}
