// Package transport defines the remote execution port: a persistent channel
// to one host that runs one command at a time and returns its outcome.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/domain/run"
)

var (
	// ErrTransport reports a lost or unusable channel. The outcome carries
	// no exit status.
	ErrTransport = errors.New("transport error")

	// ErrTimeout reports that a command exceeded its time limit and was
	// abandoned.
	ErrTimeout = errors.New("command timed out")

	// ErrNoCredential reports a descriptor with neither key nor password.
	ErrNoCredential = fmt.Errorf("%w: a private key or a password is required", domain.ErrValidation)

	// ErrConflictingCredential reports a descriptor with both key and password.
	ErrConflictingCredential = fmt.Errorf("%w: use either a private key or a password, not both", domain.ErrValidation)
)

// Executor runs commands on a single remote host. Implementations are not
// required to support concurrent Execute calls.
type Executor interface {
	// Execute runs command with the given time limit. A non-nil error
	// (ErrTransport, ErrTimeout or a context error) still returns a
	// populated Outcome with Success false and no exit status.
	Execute(ctx context.Context, command string, timeout time.Duration) (run.Outcome, error)

	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// Descriptor holds what is needed to reach and authenticate to a host.
// Exactly one of key material (Key or KeyPath) and Password must be set.
type Descriptor struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	Key        []byte
	Passphrase string
	Password   string
}

// Target returns the host identity without credentials.
func (d Descriptor) Target() run.Target {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return run.Target{Host: d.Host, Port: port, User: d.User}
}

// HasKey reports whether key material was supplied.
func (d Descriptor) HasKey() bool {
	return len(d.Key) > 0 || d.KeyPath != ""
}

// Validate checks the descriptor before any connection attempt.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Host) == "" {
		return fmt.Errorf("%w: host is required", domain.ErrValidation)
	}
	if strings.ContainsAny(d.Host, " \t@/") {
		return fmt.Errorf("%w: invalid host %q", domain.ErrValidation, d.Host)
	}
	if strings.TrimSpace(d.User) == "" {
		return fmt.Errorf("%w: user is required", domain.ErrValidation)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", domain.ErrValidation, d.Port)
	}
	switch {
	case d.HasKey() && d.Password != "":
		return ErrConflictingCredential
	case !d.HasKey() && d.Password == "":
		return ErrNoCredential
	}
	return nil
}

// Opener creates an Executor for a descriptor.
type Opener func(d Descriptor) (Executor, error)
