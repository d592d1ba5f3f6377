// Package secrets provides a thread-safe secret vault with hot reload and
// redaction support. Credentials (oracle API key, SSH password, key
// passphrase, HTTP API key) live here rather than in the configuration struct.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Well-known secret keys.
const (
	KeyOracleAPIKey   = "OPENROUTER_API_KEY"
	KeySSHPassword    = "OPSLOOP_SSH_PASSWORD"
	KeySSHPassphrase  = "OPSLOOP_SSH_KEY_PASSPHRASE"
	KeyAPIKey         = "OPSLOOP_API_KEY"
	minRedactableSize = 4
)

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu        sync.RWMutex
	values    map[string]string
	overrides map[string]string
	loader    Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values:    vals,
		overrides: make(map[string]string),
		loader:    loader,
	}, nil
}

// Get returns the secret for key, or an empty string if not found.
// Values set with Set take precedence over loaded ones.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if val, ok := v.overrides[key]; ok {
		return val
	}
	return v.values[key]
}

// Set records a secret supplied at runtime (a flag or a prompt) so that it
// survives Reload and takes part in redaction.
func (v *Vault) Set(key, value string) {
	if value == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overrides[key] = value
}

// Keys returns the names of all known secrets.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	seen := make(map[string]bool, len(v.values)+len(v.overrides))
	keys := make([]string, 0, len(seen))
	for _, m := range []map[string]string{v.values, v.overrides} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// Redacted returns a masked form of the secret for key, suitable for logs.
func (v *Vault) Redacted(key string) string {
	return mask(v.Get(key))
}

// RedactString replaces every occurrence of a known secret in s with its
// masked form. Secrets shorter than four characters are left alone.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	vals := make([]string, 0, len(v.values)+len(v.overrides))
	for _, m := range []map[string]string{v.values, v.overrides} {
		for _, val := range m {
			if len(val) >= minRedactableSize {
				vals = append(vals, val)
			}
		}
	}
	v.mu.RUnlock()

	// Longest first so a secret containing another is masked whole.
	sort.Slice(vals, func(i, j int) bool { return len(vals[i]) > len(vals[j]) })
	for _, val := range vals {
		s = strings.ReplaceAll(s, val, mask(val))
	}
	return s
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= minRedactableSize:
		return "****"
	default:
		return s[:2] + "****"
	}
}
