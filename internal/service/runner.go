package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/domain/run"
)

// RunResult pairs a request with its finished run or configuration error.
type RunResult struct {
	Request RunRequest
	Run     *run.Run
	Err     error
}

// Runner executes independent runs concurrently, one per request, with at
// most maxParallel in flight. Runs share nothing but the stateless
// services behind the LoopService.
type Runner struct {
	loop        *LoopService
	maxParallel int
}

// NewRunner creates a Runner.
func NewRunner(loop *LoopService, maxParallel int) *Runner {
	return &Runner{loop: loop, maxParallel: max(maxParallel, 1)}
}

// RunAll validates every request up front and fails without starting any
// run if one is misconfigured. Otherwise it returns one result per request
// in input order.
func (r *Runner) RunAll(ctx context.Context, reqs []RunRequest) ([]RunResult, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: at least one host is required", domain.ErrValidation)
	}
	var errs []error
	for i := range reqs {
		if err := reqs[i].Descriptor.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", reqs[i].Descriptor.Target(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	results := make([]RunResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(r.maxParallel)
	for i := range reqs {
		g.Go(func() error {
			res, err := r.loop.Run(ctx, reqs[i])
			results[i] = RunResult{Request: reqs[i], Run: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}
