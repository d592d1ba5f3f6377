// Package oracle defines the planning port: an external decision service
// that proposes the next command given the goal and recent history.
package oracle

import (
	"context"
	"errors"

	"github.com/Strob0t/opsloop/internal/domain/run"
)

var (
	// ErrUnavailable means the oracle could not be reached or refused the
	// request (rate limit, upstream error, open circuit). The run ends.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrProtocol means the oracle answered but not with a usable decision.
	ErrProtocol = errors.New("oracle protocol error")
)

// PlanContext is what the oracle sees when planning the next step.
type PlanContext struct {
	RunID     string
	Goal      string
	Target    run.Target
	Profile   string
	Budget    int
	Remaining int
	// Recent holds the trailing steps, oldest first.
	Recent []run.Step
}

// Kind tags a Response.
type Kind int

const (
	KindDecision Kind = iota
	KindMalformed
)

// Response is either a well-formed Decision or a malformed answer with the
// raw text and parse error kept for the log.
type Response struct {
	Kind     Kind
	Decision run.Decision
	Raw      string
	Err      error
}

// WellFormed reports whether Decision may be used.
func (r Response) WellFormed() bool {
	return r.Kind == KindDecision
}

// Malformed builds a malformed Response.
func Malformed(raw string, err error) Response {
	return Response{Kind: KindMalformed, Raw: raw, Err: err}
}

// Planner produces the next decision.
type Planner interface {
	// Decide returns a Response, or an error wrapping ErrUnavailable when
	// no answer could be obtained.
	Decide(ctx context.Context, pc PlanContext) (Response, error)
}
